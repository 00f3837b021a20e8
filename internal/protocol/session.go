package protocol

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sink は受信したレスポンスを1件ずつ受け取る
// 読み取りgoroutineから呼ばれるのでブロックしてはならない
type Sink func(Prioritized)

// Session は接続済みのバックエンドとのやり取りを抽象化する
type Session interface {
	// Variant はプロトコルの種類を返す
	Variant() Variant

	// Handshake はSYN/ACKを行いバックエンドのバージョンを返す
	Handshake(ctx context.Context) (string, error)

	// Send はリクエストを送り、End までのレスポンスをsinkに渡す
	// End を受け取った時点で nil を返す
	Send(ctx context.Context, req Request, sink Sink) error

	// Done は接続が終了すると閉じられる
	Done() <-chan struct{}

	// Err は接続が終了した理由を返す
	Err() error

	// Close は接続を閉じる
	Close() error
}

// exchange は1回の送信に対する応答の受け取り
type exchange struct {
	mu   sync.Mutex
	sink func(Prioritized) bool // true を返すとやり取りが完了する
	done chan struct{}
}

func (ex *exchange) offer(p Prioritized) bool {
	ex.mu.Lock()
	sink := ex.sink
	ex.mu.Unlock()
	return sink(p)
}

// discard は以降の応答を End まで読み捨てる
func (ex *exchange) discard() {
	ex.mu.Lock()
	ex.sink = untilEnd(nil)
	ex.mu.Unlock()
}

// untilEnd はEndで完了するsinkを作る。End自体もsinkに渡す
func untilEnd(sink Sink) func(Prioritized) bool {
	return func(p Prioritized) bool {
		if sink != nil {
			sink(p)
		}
		return p.Kind == End
	}
}

// dispatcher は同時に1つのやり取りだけを許し、受信した応答を現在のやり取りに渡す
// 呼び出し側がキャンセルしても End までは読み捨ててストリームの位置を保つ
type dispatcher struct {
	mu      sync.Mutex
	current *exchange
	busy    chan struct{}
	logger  *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	return &dispatcher{busy: make(chan struct{}, 1), logger: logger}
}

func (d *dispatcher) begin(ctx context.Context, dead <-chan struct{}, sink func(Prioritized) bool) (*exchange, error) {
	select {
	case d.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dead:
		return nil, ErrSessionClosed
	}

	ex := &exchange{sink: sink, done: make(chan struct{})}
	d.mu.Lock()
	d.current = ex
	d.mu.Unlock()
	return ex, nil
}

func (d *dispatcher) deliver(p Prioritized) {
	d.mu.Lock()
	ex := d.current
	d.mu.Unlock()

	if ex == nil {
		if p.Kind != End {
			d.logger.Debug("dropping unsolicited response", zap.Stringer("response", p))
		}
		return
	}

	if ex.offer(p) {
		d.mu.Lock()
		if d.current == ex {
			d.current = nil
		}
		d.mu.Unlock()
		close(ex.done)
	}
}

func (d *dispatcher) release(ex *exchange) {
	d.mu.Lock()
	if d.current == ex {
		d.current = nil
	}
	d.mu.Unlock()
	<-d.busy
}

// abandon は応答を待たずに戻る。スロットはEndを受け取るか接続が切れた時に解放する
func (d *dispatcher) abandon(ex *exchange, dead <-chan struct{}) {
	ex.discard()
	go func() {
		select {
		case <-ex.done:
		case <-dead:
		}
		d.release(ex)
	}()
}

// wait はやり取りの完了を待つ
func (d *dispatcher) wait(ctx context.Context, ex *exchange, dead <-chan struct{}, deadErr func() error) error {
	select {
	case <-ex.done:
		d.release(ex)
		return nil
	case <-dead:
		d.release(ex)
		return deadErr()
	case <-ctx.Done():
		d.abandon(ex, dead)
		return ctx.Err()
	}
}

// ErrSessionClosed はセッションが既に終了していることを表す
var ErrSessionClosed = errors.New("session closed")
