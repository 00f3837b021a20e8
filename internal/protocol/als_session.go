package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/y-oga-819/go-agda-connection/internal/transport"
	"github.com/y-oga-819/go-agda-connection/internal/version"
)

// ALSSession はAgda Language ServerとのJSON-RPCセッション
type ALSSession struct {
	conn   jsonrpc2.Conn
	codec  ALSCodec
	disp   *dispatcher
	logger *zap.Logger
}

// NewALSSession はストリーム上にJSON-RPC接続を張り、受信を開始する
func NewALSSession(rwc io.ReadWriteCloser, logger *zap.Logger) *ALSSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ALSSession{
		conn:   jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		disp:   newDispatcher(logger),
		logger: logger,
	}
	s.conn.Go(context.Background(), s.handle)
	return s
}

// Variant はプロトコルの種類を返す
func (s *ALSSession) Variant() Variant { return ALS }

// handle はサーバからの要求を処理する。読み取りループ上で呼ばれる
func (s *ALSSession) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if req.Method() != alsRequestMethod {
		s.logger.Debug("ignoring server message", zap.String("method", req.Method()))
		return reply(ctx, nil, nil)
	}

	p, err := s.codec.DecodeResponse(req.Params())
	if err != nil {
		s.logger.Warn("cannot decode response", zap.Error(err))
	}
	s.disp.deliver(p)
	return reply(ctx, nil, nil)
}

// Handshake はLSPの initialize/initialized の後に CmdReqSYN を送り CmdResACK を待つ
func (s *ALSSession) Handshake(ctx context.Context) (string, error) {
	params := &lsp.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &lsp.ClientInfo{
			Name:    version.Name,
			Version: version.Version,
		},
	}
	var result lsp.InitializeResult
	if _, err := s.conn.Call(ctx, lsp.MethodInitialize, params, &result); err != nil {
		return "", &ProtocolError{Kind: Initialize, Detail: "initialize", Err: err}
	}
	if result.ServerInfo != nil {
		s.logger.Debug("language server initialized", zap.String("server", result.ServerInfo.Name))
	}
	if err := s.conn.Notify(ctx, lsp.MethodInitialized, &lsp.InitializedParams{}); err != nil {
		return "", &ProtocolError{Kind: Initialize, Detail: "initialized", Err: err}
	}

	syn, err := s.codec.EncodeSYN()
	if err != nil {
		return "", err
	}
	res, err := s.command(ctx, syn)
	if err != nil {
		return "", &ProtocolError{Kind: Initialize, Detail: "CmdReqSYN", Err: err}
	}
	if !res.ACK {
		return "", &ProtocolError{Kind: Initialize, Detail: fmt.Sprintf("expected CmdResACK from %s", alsServerDisplayName)}
	}
	return res.Version, nil
}

// command は "agda" メソッドを呼び出しコマンド結果をデコードする
func (s *ALSSession) command(ctx context.Context, payload []byte) (CommandResult, error) {
	var raw json.RawMessage
	if _, err := s.conn.Call(ctx, alsRequestMethod, json.RawMessage(payload), &raw); err != nil {
		if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
		return CommandResult{}, &transport.IOError{Op: "call " + alsRequestMethod, Err: err}
	}
	return s.codec.DecodeCommandResult(raw)
}

// Send は CmdReq を送り、ResponseEnd までのレスポンスをsinkに渡す
func (s *ALSSession) Send(ctx context.Context, req Request, sink Sink) error {
	payload, err := s.codec.EncodeRequest(req)
	if err != nil {
		return err
	}

	// 応答が CmdRes より先に届くことがあるので、送信前に受け取り口を用意する
	ex, err := s.disp.begin(ctx, s.conn.Done(), untilEnd(sink))
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return s.Err()
		}
		return err
	}

	res, err := s.command(ctx, payload)
	switch {
	case err != nil:
		s.disp.abandon(ex, s.conn.Done())
		return err
	case res.ACK:
		s.disp.abandon(ex, s.conn.Done())
		return &ProtocolError{Kind: Initialize, Detail: "unexpected CmdResACK for a command"}
	case res.Err != nil:
		// 受け付けられなかったコマンドには応答が続かない
		s.disp.release(ex)
		return &ProtocolError{Kind: SendCommand, Err: res.Err}
	}

	return s.disp.wait(ctx, ex, s.conn.Done(), s.Err)
}

// Done は接続が終了すると閉じられる
func (s *ALSSession) Done() <-chan struct{} {
	return s.conn.Done()
}

// Err は接続が終了した理由を返す
func (s *ALSSession) Err() error {
	if err := s.conn.Err(); err != nil {
		return &transport.IOError{Op: "rpc", Err: err}
	}
	return ErrSessionClosed
}

// Close はJSON-RPC接続と下層のストリームを閉じる
func (s *ALSSession) Close() error {
	return s.conn.Close()
}
