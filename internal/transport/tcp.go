package transport

import (
	"context"
	"net"
	"time"
)

// DefaultProbeTimeout はTCP接続の既定のタイムアウト
const DefaultProbeTimeout = 1000 * time.Millisecond

// dialContext はテストで差し替える
var dialContext = (&net.Dialer{}).DialContext

type dialResult struct {
	conn net.Conn
	err  error
}

// Dial はaddrへTCP接続する
// 接続とタイマーを競わせ、同時に決着した場合は 成功 > ソケットエラー > タイムアウト の順で結果を選ぶ
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	dialCtx, cancel := context.WithCancel(ctx)
	done := make(chan dialResult, 1)
	go func() {
		conn, err := dialContext(dialCtx, "tcp", addr)
		done <- dialResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		cancel()
		return r.unwrap()
	case <-timer.C:
	case <-ctx.Done():
	}

	// タイマーと同時に接続が決着していればそちらを優先する
	select {
	case r := <-done:
		cancel()
		return r.unwrap()
	default:
	}

	cancel()
	go discard(done)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &TimeoutError{Duration: timeout}
}

// Probe はaddrへの接続可否だけを確認する
func Probe(ctx context.Context, addr string, timeout time.Duration) error {
	conn, err := Dial(ctx, addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (r dialResult) unwrap() (net.Conn, error) {
	if r.err != nil {
		return nil, &IOError{Op: "dial", Err: r.err}
	}
	return r.conn, nil
}

// discard は見捨てた接続試行の後始末をする
func discard(done <-chan dialResult) {
	if r := <-done; r.conn != nil {
		r.conn.Close()
	}
}
