package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StdioTransport はALSをサブプロセスとして起動し、stdin/stdoutを
// RPCフレーミング用のストリームとして公開する
type StdioTransport struct {
	*process

	// stdoutの読み取りが終わるまでWaitを呼ばない
	holdingStdout bool
	releaseOnce   sync.Once
}

// NewStdioTransport は新しいStdioTransportを作成する
func NewStdioTransport(config Config) *StdioTransport {
	if config.Path == "" {
		config.Path = "als"
	}
	return &StdioTransport{process: newProcess(config)}
}

// Connect はプロセスを起動する
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	if err := t.start(ctx); err != nil {
		return err
	}

	t.readers.Add(1)
	t.holdingStdout = true
	go t.waitProcess()
	return nil
}

// releaseStdout はstdoutの読み取り終了をwaitProcessに知らせる
func (t *StdioTransport) releaseStdout() {
	t.releaseOnce.Do(t.readers.Done)
}

// Stream はstdoutを読み取り、stdinに書き込むストリームを返す
func (t *StdioTransport) Stream() (io.ReadWriteCloser, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected {
		return nil, fmt.Errorf("not connected")
	}
	return &stdioStream{r: t.stdout, w: t.stdin, closer: t.Close, release: t.releaseStdout}, nil
}

// Stderr はstderrの行のチャネルを返す
func (t *StdioTransport) Stderr() <-chan string {
	return t.stderrChan
}

// Errors はプロセス終了のチャネルを返す
func (t *StdioTransport) Errors() <-chan error {
	return t.errChan
}

// Close はプロセスを終了する
// 読み取り中のストリームはプロセスの終了でEOFになる
func (t *StdioTransport) Close() error {
	err := t.close()
	t.mu.RLock()
	holding := t.holdingStdout
	t.mu.RUnlock()
	if holding {
		t.releaseStdout()
	}
	return err
}

// IsConnected は接続状態を返す
func (t *StdioTransport) IsConnected() bool {
	return t.isConnected()
}

type stdioStream struct {
	r       io.Reader
	w       io.Writer
	closer  func() error
	release func()
}

// Read はEOFかエラーに達したらプロセスの回収を許可する
func (s *stdioStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil {
		s.release()
	}
	return n, err
}

func (s *stdioStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdioStream) Close() error                { return s.closer() }
