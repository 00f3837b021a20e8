package transport

import "context"

// RawMessage はバックエンドのstdoutから受信した1フレーム
type RawMessage struct {
	Raw    []byte // 改行を除いたフレーム本体
	Prompt bool   // "Agda2> " プロンプト単独のフレーム
}

// Transport はAgdaプロセスとの行指向の通信を抽象化するインターフェース
type Transport interface {
	// Connect はプロセスを起動して接続する
	Connect(ctx context.Context) error

	// Write はプロセスのstdinに1行書き込む
	Write(data []byte) error

	// Messages はstdoutのフレームのチャネルを返す
	Messages() <-chan RawMessage

	// Stderr はstderrの行のチャネルを返す
	Stderr() <-chan string

	// Errors は読み取りエラーとプロセス終了のチャネルを返す
	Errors() <-chan error

	// EndInput はstdinをクローズする
	EndInput() error

	// Close はプロセスを終了する
	Close() error

	// IsConnected は接続状態を返す
	IsConnected() bool
}

// Config はプロセス起動の設定
type Config struct {
	Path          string            // 実行ファイルのパス
	Args          []string          // コマンドライン引数
	Env           map[string]string // 追加の環境変数
	CWD           string            // 作業ディレクトリ
	MaxBufferSize int               // 1フレームの最大サイズ
}
