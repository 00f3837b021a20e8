// Package scheduler は1リクエスト分のレスポンスの配送順序を管理する
//
// NonLast は到着順にすぐハンドラへ渡し、Last は End を受け取り
// 全ての NonLast ハンドラが終わってから優先度の昇順で渡す。
// 同じ優先度の Last は到着順を保つ。
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// State は実行の状態
type State int

const (
	// Idle はまだ何も受け取っていない
	Idle State = iota
	// Running はレスポンスを受け取っている
	Running
	// Draining は Last を配送している
	Draining
	// Settled は完了した。以降の入力は無視する
	Settled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler はレスポンスを1件処理する
type Handler[T any] func(ctx context.Context, v T) error

type entry[T any] struct {
	priority int
	value    T
}

// Scheduler は1回のリクエストに対するハンドラ呼び出しを順序付ける
// 入力メソッドはブロックしないので、受信goroutineから直接呼べる
type Scheduler[T any] struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	handler Handler[T]

	mu      sync.Mutex
	state   State
	pending int // 受け付けたが完了していない NonLast の数
	endSeen bool
	queue   []T
	working bool
	lasts   []entry[T]
	failure error
	err     error
	settled chan struct{}
}

// New は新しい Scheduler を作成する。ハンドラには ctx から派生したコンテキストが渡る
func New[T any](ctx context.Context, handler Handler[T]) *Scheduler[T] {
	runCtx, cancel := context.WithCancelCause(ctx)
	return &Scheduler[T]{
		ctx:     runCtx,
		cancel:  cancel,
		handler: handler,
		settled: make(chan struct{}),
	}
}

// RunNonLast は NonLast を受け付け、ワーカーで到着順に処理する
func (s *Scheduler[T]) RunNonLast(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Settled || s.failure != nil {
		return
	}
	s.start()
	s.pending++
	s.queue = append(s.queue, v)
	if !s.working {
		s.working = true
		go s.work()
	}
}

// AddLast は Last を優先度付きで保留する
func (s *Scheduler[T]) AddLast(priority int, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if (s.state != Idle && s.state != Running) || s.failure != nil {
		return
	}
	s.start()
	s.lasts = append(s.lasts, entry[T]{priority: priority, value: v})
}

// End は応答の終わりを記録する。NonLast が残っていなければすぐに Last の配送を始める
func (s *Scheduler[T]) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Settled || s.endSeen {
		return
	}
	s.start()
	s.endSeen = true
	s.advance()
}

// Fail は受け付け済みの NonLast を処理し終えた後、Last を捨てて err で完了する
func (s *Scheduler[T]) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Settled {
		return
	}
	s.start()
	s.fail(err)
	s.advance()
}

// Abort は未処理の NonLast と Last を捨ててすぐに err で完了する
// 実行中のハンドラにはコンテキストのキャンセルで伝わる
func (s *Scheduler[T]) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Settled {
		return
	}
	s.pending -= len(s.queue)
	s.queue = nil
	s.lasts = nil
	s.settle(err)
}

// Wait は完了を待ち、実行の結果を返す
func (s *Scheduler[T]) Wait(ctx context.Context) error {
	select {
	case <-s.settled:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done は完了すると閉じられる
func (s *Scheduler[T]) Done() <-chan struct{} {
	return s.settled
}

// State は現在の状態を返す
func (s *Scheduler[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending は完了していない NonLast の数を返す
func (s *Scheduler[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler[T]) work() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.state == Settled {
			s.working = false
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := s.handler(s.ctx, v)

		s.mu.Lock()
		if s.state != Settled {
			s.pending--
			if err != nil {
				s.fail(err)
			}
			s.advance()
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler[T]) drain(entries []entry[T]) {
	for _, e := range entries {
		s.mu.Lock()
		settled := s.state == Settled
		s.mu.Unlock()
		if settled {
			return
		}

		if err := s.handler(s.ctx, e.value); err != nil {
			s.mu.Lock()
			s.settle(err)
			s.mu.Unlock()
			return
		}
	}

	s.mu.Lock()
	s.settle(nil)
	s.mu.Unlock()
}

// 以下は s.mu を保持して呼ぶ

func (s *Scheduler[T]) start() {
	if s.state == Idle {
		s.state = Running
	}
}

func (s *Scheduler[T]) fail(err error) {
	if s.failure == nil {
		s.failure = err
	}
	s.lasts = nil
}

// advance は NonLast が全て終わっていれば次の段階に進める
func (s *Scheduler[T]) advance() {
	if s.state != Running || s.pending > 0 {
		return
	}
	if s.failure != nil {
		s.settle(s.failure)
		return
	}
	if !s.endSeen {
		return
	}

	entries := s.lasts
	s.lasts = nil
	if len(entries) == 0 {
		s.settle(nil)
		return
	}
	slices.SortStableFunc(entries, func(a, b entry[T]) int {
		return cmp.Compare(a.priority, b.priority)
	})
	s.state = Draining
	go s.drain(entries)
}

func (s *Scheduler[T]) settle(err error) {
	s.state = Settled
	s.err = err
	close(s.settled)
	if err != nil {
		s.cancel(err)
	} else {
		s.cancel(context.Canceled)
	}
}
