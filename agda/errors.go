package agda

import (
	"context"
	"errors"
	"strings"

	"github.com/y-oga-819/go-agda-connection/internal/protocol"
	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

var (
	// ErrClosed は破棄済みの接続を使おうとしたことを表す
	ErrClosed = errors.New("connection closed")

	// ErrInitialize はハンドシェイクの失敗を表す
	// errors.Is は ProtocolError{Initialize} を包むエラーに対して true を返す
	ErrInitialize = errors.New("initialization failed")

	// ErrNoEndpoints は接続先が1つも指定されていないことを表す
	ErrNoEndpoints = errors.New("no endpoints to connect")
)

// ConnectionError は接続の操作に失敗したときのエラー
type ConnectionError struct {
	Op       string // 操作名（connect, handshake, request など）
	Endpoint string // 接続先
	Err      error  // 元エラー
	Details  string // 追加情報
	Backend  string // バックエンドが出力したエラー（あれば）
}

func (e *ConnectionError) Error() string {
	msg := e.Op
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	msg += ": " + e.Err.Error()
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is は ErrInitialize との比較を ProtocolError の種類で判定する
func (e *ConnectionError) Is(target error) bool {
	if target != ErrInitialize {
		return false
	}
	var perr *protocol.ProtocolError
	return errors.As(e.Err, &perr) && perr.Kind == protocol.Initialize
}

// Title は包んでいるエラーの見出しを返す
func (e *ConnectionError) Title() string {
	title, _ := describe(e.Err)
	return title
}

// Body は包んでいるエラーの詳細に接続先とバックエンドの出力を加えて返す
func (e *ConnectionError) Body() string {
	_, body := describe(e.Err)
	if e.Details != "" {
		body += "\n" + e.Details
	}
	if e.Endpoint != "" {
		body += "\nendpoint: " + e.Endpoint
	}
	if e.Backend != "" && !strings.Contains(body, e.Backend) {
		body += "\n" + e.Backend
	}
	return body
}

// describer は表示用の見出しと詳細を持つエラー
type describer interface {
	Title() string
	Body() string
}

// Describe はエラーを表示用の見出しと詳細に変換する
func Describe(err error) (title, body string) {
	if err == nil {
		return "", ""
	}
	return describe(err)
}

func describe(err error) (title, body string) {
	var d describer
	switch {
	case errors.As(err, &d):
		return d.Title(), d.Body()
	case errors.Is(err, context.Canceled):
		return "Cancelled", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout", err.Error()
	case errors.Is(err, ErrClosed):
		return "Connection closed", err.Error()
	default:
		return "Error", err.Error()
	}
}

// newConnectionError は ConnectionError を作る。ctxのエラーはそのまま返す
func newConnectionError(op string, ep Endpoint, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}
	return &ConnectionError{Op: op, Endpoint: ep.String(), Err: err, Backend: backendOutput(err)}
}

// backendOutput はプロセス終了時のstderrを取り出す
func backendOutput(err error) string {
	var exit *transport.ExitError
	if errors.As(err, &exit) {
		return strings.TrimSpace(exit.Stderr)
	}
	return ""
}
