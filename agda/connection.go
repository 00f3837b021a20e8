// Package agda はAgdaのバックエンドとの接続を提供する
//
// Connect で agda --interaction かAgda Language Serverに接続し、
// SendRequest でリクエストを送る。ハンドラには情報レスポンスが到着順に、
// 終端レスポンスがその後に優先度順で渡される。
package agda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/y-oga-819/go-agda-connection/internal/protocol"
	"github.com/y-oga-819/go-agda-connection/internal/scheduler"
	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

// Handler はレスポンスを1件処理する
// 返したリクエストは現在のリクエストの直後に、返した順で送られる
type Handler func(ctx context.Context, resp Response) ([]Request, error)

// Connection はAgdaのバックエンドとの接続
type Connection struct {
	endpoint Endpoint
	session  protocol.Session
	version  string
	logger   *zap.Logger
	metrics  Recorder

	// sendMu はリクエストを1つずつ送るためのロック
	sendMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	current *scheduler.Scheduler[Response]
}

// Connect は接続先に接続し、ハンドシェイクを行う
func Connect(ctx context.Context, ep Endpoint, opts *Options) (*Connection, error) {
	logger := opts.logger().With(zap.Stringer("endpoint", ep), zap.Stringer("protocol", ep.Protocol))
	metrics := opts.recorder()

	session, err := openSession(ctx, ep, opts, logger)
	if err != nil {
		metrics.RecordTransportError(ep.Protocol.String(), errorReason(err))
		logger.Info("cannot connect", zap.Error(err))
		return nil, newConnectionError("connect", ep, err)
	}

	version, err := session.Handshake(ctx)
	if err != nil {
		session.Close()
		metrics.RecordTransportError(ep.Protocol.String(), errorReason(err))
		logger.Info("handshake failed", zap.Error(err))
		return nil, newConnectionError("handshake", ep, err)
	}

	c := &Connection{
		endpoint: ep,
		session:  session,
		version:  version,
		logger:   logger,
		metrics:  metrics,
	}
	metrics.IncConnections(ep.Protocol.String())
	logger.Info("connected", zap.String("version", version))

	go c.watch()
	return c, nil
}

// openSession は接続先の種類に応じてトランスポートを開く
func openSession(ctx context.Context, ep Endpoint, opts *Options, logger *zap.Logger) (protocol.Session, error) {
	var probeTimeout time.Duration
	config := transport.Config{Path: ep.Path}
	if opts != nil {
		probeTimeout = opts.ProbeTimeout
		config.Args = append(config.Args, opts.Args...)
		config.Env = opts.Env
		config.CWD = opts.CWD
		config.MaxBufferSize = opts.MaxBufferSize
	}

	switch {
	case ep.Launch == TCP:
		conn, err := transport.Dial(ctx, ep.Addr, probeTimeout)
		if err != nil {
			return nil, err
		}
		return protocol.NewALSSession(conn, logger), nil

	case ep.Protocol == ALS:
		t := transport.NewStdioTransport(config)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		stream, err := t.Stream()
		if err != nil {
			t.Close()
			return nil, err
		}
		go logProcess(t, logger)
		return protocol.NewALSSession(stream, logger), nil

	default:
		config.Args = append([]string{"--interaction"}, config.Args...)
		t := transport.NewSubprocessTransport(config)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return protocol.NewEmacsSession(t, logger), nil
	}
}

// logProcess はALSプロセスのstderrと終了をログに出す
func logProcess(t *transport.StdioTransport, logger *zap.Logger) {
	stderr, errs := t.Stderr(), t.Errors()
	for stderr != nil || errs != nil {
		select {
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			logger.Debug("backend stderr", zap.String("line", line))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Info("backend stopped", zap.Error(err))
		}
	}
}

// watch は接続が切れたら実行中のリクエストを終わらせる
func (c *Connection) watch() {
	<-c.session.Done()

	c.mu.Lock()
	closed := c.closed
	cur := c.current
	c.mu.Unlock()
	if closed {
		return
	}

	err := c.session.Err()
	c.logger.Warn("connection lost", zap.Error(err))
	c.metrics.RecordTransportError(c.endpoint.Protocol.String(), errorReason(err))
	if cur != nil {
		cur.Abort(newConnectionError("request", c.endpoint, err))
	}
}

// SendRequest はリクエストを送り、レスポンスをハンドラに渡す
//
// ハンドラが返したリクエストは、残りのリクエストより先に同じハンドラで処理する。
// どこかで失敗したら残りは送らずにエラーを返す。
// 同じ接続に対する呼び出しは1つずつ処理される。
func (c *Connection) SendRequest(ctx context.Context, req Request, handler Handler) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	type work struct {
		req    Request
		parent *Run
	}
	worklist := []work{{req: req}}

	for len(worklist) > 0 {
		next := worklist[0]
		worklist = worklist[1:]

		run := newRun(next.req, next.parent)
		derived, err := c.send(ctx, run, next.req, handler)
		if err != nil {
			return err
		}

		children := make([]work, 0, len(derived)+len(worklist))
		for _, d := range derived {
			children = append(children, work{req: d, parent: run})
		}
		worklist = append(children, worklist...)
	}
	return nil
}

// send は1件のリクエストを新しいスケジューラで処理し、ハンドラが返したリクエストを返す
func (c *Connection) send(ctx context.Context, run *Run, req Request, handler Handler) ([]Request, error) {
	proto := c.endpoint.Protocol.String()
	logger := c.logger.With(zap.String("run_id", run.ID), zap.String("command", run.Command))
	if run.Derived() {
		logger = logger.With(zap.String("parent_id", run.ParentID))
	}

	var (
		mu         sync.Mutex
		derived    []Request
		handlerErr error
	)
	sched := scheduler.New(withRun(ctx, run), func(ctx context.Context, resp Response) error {
		reqs, err := handler(ctx, resp)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			handlerErr = err
			return err
		}
		derived = append(derived, reqs...)
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, newConnectionError("request", c.endpoint, ErrClosed)
	}
	c.current = sched
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.current == sched {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	logger.Debug("sending request")
	sink := func(p protocol.Prioritized) {
		c.metrics.RecordResponse(proto, p.Kind.String())
		switch p.Kind {
		case protocol.NonLast:
			sched.RunNonLast(p.Response)
		case protocol.Last:
			sched.AddLast(p.Priority, p.Response)
		case protocol.ParseError:
			logger.Warn("cannot decode response", zap.Error(p.Err))
			sched.Fail(decodeFailure(p.Err))
		case protocol.End:
			sched.End()
		}
	}

	if err := c.session.Send(ctx, req, sink); err != nil {
		sched.Abort(err)
	}

	select {
	case <-sched.Done():
	case <-ctx.Done():
		sched.Abort(context.Cause(ctx))
	}
	err := sched.Wait(context.Background())

	duration := time.Since(run.Started)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	c.metrics.RecordRequest(proto, outcome, duration)
	logger.Debug("request settled", zap.String("outcome", outcome), zap.Duration("duration", duration), zap.Error(err))

	if err == nil {
		return derived, nil
	}
	mu.Lock()
	fromHandler := handlerErr != nil && errors.Is(err, handlerErr)
	mu.Unlock()
	if fromHandler {
		return nil, err
	}
	return nil, newConnectionError("request", c.endpoint, err)
}

// decodeFailure はデコード失敗を CannotDecodeResponse にそろえる
func decodeFailure(err error) error {
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		return err
	}
	return &protocol.ProtocolError{Kind: protocol.CannotDecodeResponse, Err: err}
}

// Destroy は接続を閉じる。実行中のリクエストはハンドラを呼ばずに終わる
// 複数回呼んでもよい
func (c *Connection) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		cur.Abort(newConnectionError("request", c.endpoint, ErrClosed))
	}
	c.metrics.DecConnections(c.endpoint.Protocol.String())
	c.logger.Info("connection destroyed")

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// Version はハンドシェイクで受け取ったバックエンドのバージョンを返す
func (c *Connection) Version() string {
	return c.version
}

// Protocol はプロトコルの種類を返す
func (c *Connection) Protocol() Protocol {
	return c.endpoint.Protocol
}

// Endpoint は接続先を返す
func (c *Connection) Endpoint() Endpoint {
	return c.endpoint
}

// errorReason はメトリクスのラベルに使うエラーの分類を返す
func errorReason(err error) string {
	var (
		timeout *transport.TimeoutError
		ioErr   *transport.IOError
		exit    *transport.ExitError
		perr    *protocol.ProtocolError
	)
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &ioErr):
		return "io"
	case errors.As(err, &exit):
		return "exit"
	case errors.As(err, &perr):
		return perr.Kind.String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
