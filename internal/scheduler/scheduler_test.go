package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder はハンドラの呼び出し順を記録する
type recorder struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	fails map[string]error
}

func newRecorder() *recorder {
	return &recorder{gates: map[string]chan struct{}{}, fails: map[string]error{}}
}

// gate は v のハンドラを release が呼ばれるまで止める
func (r *recorder) gate(v string) {
	r.gates[v] = make(chan struct{})
}

func (r *recorder) release(v string) {
	close(r.gates[v])
}

func (r *recorder) handle(ctx context.Context, v string) error {
	if g, ok := r.gates[v]; ok {
		<-g
	}
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
	return r.fails[v]
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScheduler_NonLastBeforeLastByPriority(t *testing.T) {
	r := newRecorder()
	s := New(context.Background(), r.handle)

	s.RunNonLast("A")
	s.AddLast(2, "X")
	s.RunNonLast("B")
	s.AddLast(1, "Y")
	s.End()

	require.NoError(t, s.Wait(waitCtx(t)))
	require.Equal(t, []string{"A", "B", "Y", "X"}, r.seen())
	require.Equal(t, Settled, s.State())
	require.Zero(t, s.Pending())
}

func TestScheduler_EqualPrioritiesKeepArrivalOrder(t *testing.T) {
	r := newRecorder()
	s := New(context.Background(), r.handle)

	s.AddLast(1, "a")
	s.AddLast(0, "b")
	s.AddLast(1, "c")
	s.AddLast(0, "d")
	s.AddLast(-3, "e")
	s.End()

	require.NoError(t, s.Wait(waitCtx(t)))
	require.Equal(t, []string{"e", "b", "d", "a", "c"}, r.seen())
}

func TestScheduler_LastWaitsForPendingNonLast(t *testing.T) {
	r := newRecorder()
	r.gate("A")
	s := New(context.Background(), r.handle)

	s.RunNonLast("A")
	s.AddLast(1, "X")
	s.End()

	require.Never(t, func() bool { return len(r.seen()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, Running, s.State())
	require.Equal(t, 1, s.Pending())

	r.release("A")
	require.NoError(t, s.Wait(waitCtx(t)))
	require.Equal(t, []string{"A", "X"}, r.seen())
}

func TestScheduler_RandomInterleavings(t *testing.T) {
	for seed := int64(0); seed < 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := newRecorder()
		s := New(context.Background(), r.handle)

		type last struct {
			priority int
			v        string
		}
		var nonLast []string
		var lasts []last
		for i, n := 0, rng.Intn(20); i < n; i++ {
			v := fmt.Sprintf("%d", i)
			if rng.Intn(2) == 0 {
				nonLast = append(nonLast, v)
				s.RunNonLast(v)
				continue
			}
			l := last{priority: rng.Intn(3) - 1, v: v}
			lasts = append(lasts, l)
			s.AddLast(l.priority, l.v)
		}
		s.End()

		// NonLastは到着順、その後にLastが優先度の昇順（同じ優先度は到着順）
		slices.SortStableFunc(lasts, func(a, b last) int { return cmp.Compare(a.priority, b.priority) })
		var want []string
		want = append(want, nonLast...)
		for _, l := range lasts {
			want = append(want, l.v)
		}

		require.NoError(t, s.Wait(waitCtx(t)), "seed %d", seed)
		require.Equal(t, want, r.seen(), "seed %d", seed)
	}
}

func TestScheduler_EmptyRun(t *testing.T) {
	s := New(context.Background(), newRecorder().handle)
	require.Equal(t, Idle, s.State())

	s.End()
	require.NoError(t, s.Wait(waitCtx(t)))
	require.Equal(t, Settled, s.State())
}

func TestScheduler_FailDiscardsLast(t *testing.T) {
	r := newRecorder()
	r.gate("A")
	s := New(context.Background(), r.handle)
	boom := errors.New("cannot decode")

	s.RunNonLast("A")
	s.AddLast(1, "X")
	s.Fail(boom)

	// 受け付け済みの NonLast は数えたまま
	require.Equal(t, 1, s.Pending())
	require.Equal(t, Running, s.State())

	// 失敗後の入力は無視する
	s.RunNonLast("B")
	s.AddLast(0, "Y")
	s.End()

	r.release("A")
	require.ErrorIs(t, s.Wait(waitCtx(t)), boom)
	require.Equal(t, []string{"A"}, r.seen())
}

func TestScheduler_FailWithoutPendingSettlesImmediately(t *testing.T) {
	s := New(context.Background(), newRecorder().handle)
	boom := errors.New("cannot decode")

	s.AddLast(1, "X")
	s.Fail(boom)

	require.Equal(t, Settled, s.State())
	require.ErrorIs(t, s.Wait(waitCtx(t)), boom)
}

func TestScheduler_AbortDropsQueuedWork(t *testing.T) {
	r := newRecorder()
	r.gate("A")
	s := New(context.Background(), r.handle)
	closed := errors.New("connection closed")

	s.RunNonLast("A")
	s.RunNonLast("B")
	s.AddLast(1, "X")
	s.Abort(closed)

	require.ErrorIs(t, s.Wait(waitCtx(t)), closed)
	require.Equal(t, Settled, s.State())

	r.release("A")
	require.Never(t, func() bool {
		for _, v := range r.seen() {
			if v == "B" || v == "X" {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestScheduler_AbortCancelsRunningHandler(t *testing.T) {
	started := make(chan struct{})
	cause := make(chan error, 1)
	s := New(context.Background(), func(ctx context.Context, v string) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return nil
	})
	closed := errors.New("connection closed")

	s.RunNonLast("A")
	<-started
	s.Abort(closed)

	select {
	case err := <-cause:
		require.ErrorIs(t, err, closed)
	case <-time.After(5 * time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestScheduler_NonLastHandlerError(t *testing.T) {
	r := newRecorder()
	boom := errors.New("handler failed")
	r.fails["A"] = boom
	s := New(context.Background(), r.handle)

	s.RunNonLast("A")
	s.AddLast(1, "X")
	s.End()

	require.ErrorIs(t, s.Wait(waitCtx(t)), boom)
	require.NotContains(t, r.seen(), "X")
}

func TestScheduler_LastHandlerErrorStopsDrain(t *testing.T) {
	r := newRecorder()
	boom := errors.New("handler failed")
	r.fails["X"] = boom
	s := New(context.Background(), r.handle)

	s.AddLast(1, "X")
	s.AddLast(2, "Y")
	s.End()

	require.ErrorIs(t, s.Wait(waitCtx(t)), boom)
	require.Equal(t, []string{"X"}, r.seen())
}

func TestScheduler_WaitHonorsContext(t *testing.T) {
	s := New(context.Background(), newRecorder().handle)
	s.RunNonLast("A")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestScheduler_InputsDoNotBlock(t *testing.T) {
	r := newRecorder()
	r.gate("A")
	s := New(context.Background(), r.handle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunNonLast("A")
		for i := 0; i < 100; i++ {
			s.RunNonLast("B")
			s.AddLast(i, "X")
		}
		s.End()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("inputs blocked while a handler was running")
	}
	require.Equal(t, 101, s.Pending())

	r.release("A")
	require.NoError(t, s.Wait(waitCtx(t)))
	require.Len(t, r.seen(), 201)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Running, "running"},
		{Draining, "draining"},
		{Settled, "settled"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
