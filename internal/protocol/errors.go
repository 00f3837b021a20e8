package protocol

import (
	"fmt"
)

// DecodeErrorKind はデコードエラーの種類
type DecodeErrorKind int

const (
	// UnknownTag は未知のタグ・ヘッド
	UnknownTag DecodeErrorKind = iota
	// MalformedPayload はタグは既知だが中身が不正
	MalformedPayload
)

// DecodeError はワイヤ形式のデコードエラー
type DecodeError struct {
	Kind   DecodeErrorKind
	Type   string // デコードしようとした型（"ALS.Response" など）
	Tag    string
	Detail string
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case UnknownTag:
		return fmt.Sprintf("[%s] Unknown constructor: %s", e.Type, e.Tag)
	default:
		if e.Tag != "" {
			return fmt.Sprintf("[%s] Malformed payload for %s: %s", e.Type, e.Tag, e.Detail)
		}
		return fmt.Sprintf("[%s] Malformed payload: %s", e.Type, e.Detail)
	}
}

// Title はエラーの見出しを返す
func (e *DecodeError) Title() string { return "Cannot decode response" }

// Body はエラーの詳細を返す
func (e *DecodeError) Body() string { return e.Error() }

func unknownTag(typ, tag string) *DecodeError {
	return &DecodeError{Kind: UnknownTag, Type: typ, Tag: tag}
}

func malformed(typ, tag string, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: MalformedPayload, Type: typ, Tag: tag, Detail: fmt.Sprintf(format, args...)}
}

// ProtocolErrorKind はプロトコルエラーの種類
type ProtocolErrorKind int

const (
	// Initialize はハンドシェイクの失敗
	Initialize ProtocolErrorKind = iota
	// CannotDecodeResponse はレスポンスのデコード失敗
	CannotDecodeResponse
	// CannotDecodeCommandResult はコマンド結果のデコード失敗
	CannotDecodeCommandResult
	// SendCommand はバックエンドがコマンドを受け付けなかった
	SendCommand
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case Initialize:
		return "initialize"
	case CannotDecodeResponse:
		return "cannot_decode_response"
	case CannotDecodeCommandResult:
		return "cannot_decode_command_result"
	case SendCommand:
		return "send_command"
	default:
		return fmt.Sprintf("protocol_error(%d)", int(k))
	}
}

// ProtocolError はバックエンドとのやり取りの失敗
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
	Raw    string // 受信した生データ（あれば）
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Title はエラーの見出しを返す
func (e *ProtocolError) Title() string {
	switch e.Kind {
	case Initialize:
		return "Initialization error"
	case CannotDecodeResponse:
		return "Cannot decode response"
	case CannotDecodeCommandResult:
		return "Cannot decode command result"
	case SendCommand:
		return "Cannot send command"
	default:
		return "Protocol error"
	}
}

// Body はエラーの詳細を返す
func (e *ProtocolError) Body() string {
	body := e.Detail
	if e.Err != nil {
		if body != "" {
			body += "\n"
		}
		body += e.Err.Error()
	}
	if e.Raw != "" {
		body += "\nJSON from the server:\n" + e.Raw
	}
	return body
}
