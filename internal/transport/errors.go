package transport

import (
	"fmt"
	"strings"
	"time"
)

// TimeoutError は接続がタイムアウトしたことを表す
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v", e.Duration)
}

// Title はエラーの見出しを返す
func (e *TimeoutError) Title() string { return "Timeout" }

// Body はエラーの詳細を返す
func (e *TimeoutError) Body() string {
	return fmt.Sprintf("Expected to connect within %dms", e.Duration.Milliseconds())
}

// IOError はソケットやパイプのI/Oエラー
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Title はエラーの見出しを返す
func (e *IOError) Title() string { return "Socket I/O error" }

// Body はエラーの詳細を返す
func (e *IOError) Body() string { return e.Error() }

// ExitError はバックエンドプロセスの予期しない終了
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("process exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Title はエラーの見出しを返す
func (e *ExitError) Title() string { return "Process exited" }

// Body はエラーの詳細を返す
func (e *ExitError) Body() string {
	body := fmt.Sprintf("exit code: %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		body += "\n" + s
	}
	return body
}
