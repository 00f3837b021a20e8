package agda

import (
	"time"

	"go.uber.org/zap"
)

// Options は接続の設定を表す
type Options struct {
	// プロセス設定
	Args          []string          // 追加のコマンドライン引数
	Env           map[string]string // 追加の環境変数
	CWD           string            // 作業ディレクトリ
	MaxBufferSize int               // 1フレームの最大サイズ（デフォルト: 10MB）

	// TCP設定
	ProbeTimeout time.Duration // 接続のタイムアウト（デフォルト: 1000ms）

	// 観測
	Logger  *zap.Logger
	Metrics Recorder
}

// Recorder は接続とリクエストの計測を受け取る
// *observability.Metrics が実装する
type Recorder interface {
	RecordRequest(protocol, outcome string, duration time.Duration)
	RecordResponse(protocol, kind string)
	RecordTransportError(protocol, reason string)
	IncConnections(protocol string)
	DecConnections(protocol string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, time.Duration) {}
func (nopRecorder) RecordResponse(string, string)               {}
func (nopRecorder) RecordTransportError(string, string)         {}
func (nopRecorder) IncConnections(string)                       {}
func (nopRecorder) DecConnections(string)                       {}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) recorder() Recorder {
	if o == nil || o.Metrics == nil {
		return nopRecorder{}
	}
	return o.Metrics
}
