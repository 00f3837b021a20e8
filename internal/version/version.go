package version

import "fmt"

// Name はLSPのclientInfoなどに使うクライアント名
const Name = "agdaconn"

var (
	// Version はビルド時に -ldflags "-X" で上書きされる
	Version = "0.1.0"
	// Commit はビルド時のgitコミット
	Commit = "dev"
	// BuildDate はビルド日時
	BuildDate = "unknown"
)

// Full は表示用のバージョン文字列を返す
func Full() string {
	return fmt.Sprintf("%s (commit:%s, built:%s)", Version, Commit, BuildDate)
}
