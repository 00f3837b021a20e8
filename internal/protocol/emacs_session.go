package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

// EmacsSession は agda --interaction とのセッション
type EmacsSession struct {
	transport transport.Transport
	codec     EmacsCodec
	disp      *dispatcher
	logger    *zap.Logger

	done chan struct{}
	mu   sync.RWMutex
	err  error
}

// NewEmacsSession は接続済みのTransportからセッションを作成し、読み取りを開始する
func NewEmacsSession(t transport.Transport, logger *zap.Logger) *EmacsSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EmacsSession{
		transport: t,
		disp:      newDispatcher(logger),
		logger:    logger,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Variant はプロトコルの種類を返す
func (s *EmacsSession) Variant() Variant { return Emacs }

func (s *EmacsSession) readLoop() {
	defer close(s.done)

	msgs := s.transport.Messages()
	errs := s.transport.Errors()
	stderr := s.transport.Stderr()
	var exitErr error

	for msgs != nil || errs != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			p, err := s.codec.DecodeResponse(msg.Raw)
			if err != nil {
				s.logger.Warn("cannot decode response", zap.Error(err), zap.ByteString("raw", msg.Raw))
			}
			s.disp.deliver(p)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if exitErr == nil {
				exitErr = err
			}
			s.logger.Info("backend stopped", zap.Error(err))
			// 読み取りエラーの後はストリームの位置が分からないので接続を終える
			var exit *transport.ExitError
			if !errors.As(err, &exit) {
				s.transport.Close()
			}

		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			s.logger.Debug("backend stderr", zap.String("line", line))
		}
	}

	if exitErr == nil {
		exitErr = ErrSessionClosed
	}
	s.mu.Lock()
	s.err = exitErr
	s.mu.Unlock()
}

// Handshake は Cmd_show_version を送り *Agda Version* の表示をACKとして待つ
func (s *EmacsSession) Handshake(ctx context.Context) (string, error) {
	line, err := s.codec.EncodeRequest(Request{Command: ShowVersion{}, Context: Context{Level: LevelNone}})
	if err != nil {
		return "", err
	}

	var (
		version string
		acked   bool
		failure error
	)
	sink := func(p Prioritized) bool {
		if acked {
			return p.Kind == End
		}
		if v, ok := versionOf(p); ok {
			version = v
			acked = true
			return false
		}
		switch {
		case p.Kind == End:
			// 起動時のプロンプト
			return false
		case p.Kind == NonLast:
			if _, ok := p.Response.(Status); ok {
				return false
			}
		}
		failure = &ProtocolError{Kind: Initialize, Detail: fmt.Sprintf("expected %s, got %s", VersionTitle, p), Err: p.Err}
		return true
	}

	ex, err := s.disp.begin(ctx, s.done, sink)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return "", s.Err()
		}
		return "", err
	}
	if err := s.transport.Write(line); err != nil {
		s.disp.release(ex)
		return "", err
	}
	if err := s.disp.wait(ctx, ex, s.done, s.Err); err != nil {
		return "", err
	}
	if failure != nil {
		return "", failure
	}
	return version, nil
}

// versionOf は *Agda Version* の表示からバージョンを取り出す
func versionOf(p Prioritized) (string, bool) {
	if p.Kind != NonLast {
		return "", false
	}
	d, ok := p.Response.(DisplayInfo)
	if !ok {
		return "", false
	}
	g, ok := d.Info.(InfoGeneric)
	if !ok || g.Title != VersionTitle {
		return "", false
	}
	var body string
	if len(g.Items) > 0 {
		body = g.Items[0].Body
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), "Agda version")), true
}

// Send はIOTCM行を書き込み、次のプロンプトまでのレスポンスをsinkに渡す
func (s *EmacsSession) Send(ctx context.Context, req Request, sink Sink) error {
	line, err := s.codec.EncodeRequest(req)
	if err != nil {
		return err
	}

	ex, err := s.disp.begin(ctx, s.done, untilEnd(sink))
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return s.Err()
		}
		return err
	}
	if err := s.transport.Write(line); err != nil {
		s.disp.release(ex)
		return err
	}
	return s.disp.wait(ctx, ex, s.done, s.Err)
}

// Done は接続が終了すると閉じられる
func (s *EmacsSession) Done() <-chan struct{} {
	return s.done
}

// Err は接続が終了した理由を返す
func (s *EmacsSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err == nil {
		return ErrSessionClosed
	}
	return s.err
}

// Close はプロセスを終了する
func (s *EmacsSession) Close() error {
	return s.transport.Close()
}
