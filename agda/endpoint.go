package agda

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/y-oga-819/go-agda-connection/internal/protocol"
	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

// Protocol は接続先が話すプロトコル
type Protocol = protocol.Variant

const (
	// Emacs は agda --interaction のS式プロトコル
	Emacs = protocol.Emacs
	// ALS はAgda Language ServerのJSON-RPCプロトコル
	ALS = protocol.ALS
)

// Launch は接続の方法
type Launch int

const (
	// Spawn はサブプロセスを起動してstdioで話す
	Spawn Launch = iota
	// TCP は起動済みのサーバにTCPで接続する
	TCP
)

func (l Launch) String() string {
	if l == TCP {
		return "tcp"
	}
	return "spawn"
}

const lspScheme = "lsp"

// Endpoint は接続先を表す。解決後は変更しない
type Endpoint struct {
	Protocol Protocol
	Launch   Launch
	Path     string // Spawn のときの実行ファイル
	Addr     string // TCP のときの host:port
}

// ParseEndpoint は設定やコマンドラインの文字列を接続先に変換する
//
// "lsp://host:port" はTCPで待ち受けるALSになる。
// それ以外はファイルパスとして扱い、先頭の ~ をホームディレクトリに展開する。
// 区切り文字を含まない名前はPATHから探すのでそのまま残す。
// 実行ファイル名が als ならALS、それ以外はEmacsプロトコルとみなす。
func ParseEndpoint(raw string) Endpoint {
	raw = strings.TrimSpace(raw)
	if addr, ok := parseLSPAddr(raw); ok {
		return Endpoint{Protocol: ALS, Launch: TCP, Addr: addr}
	}

	path := expandPath(raw)
	if path == "" {
		path = transport.DefaultPath
	}
	ep := Endpoint{Protocol: Emacs, Launch: Spawn, Path: path}
	if isALSExecutable(path) {
		ep.Protocol = ALS
	}
	return ep
}

// parseLSPAddr は lsp://host:port を host:port にする。不正なら false
func parseLSPAddr(raw string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(raw), lspScheme+"://") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return "", false
	}
	return net.JoinHostPort(u.Hostname(), u.Port()), true
}

func expandPath(raw string) string {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			raw = filepath.Join(home, raw[1:])
		}
	}
	if !strings.ContainsRune(raw, filepath.Separator) && !strings.ContainsRune(raw, '/') {
		return raw
	}
	if abs, err := filepath.Abs(raw); err == nil {
		return abs
	}
	return filepath.Clean(raw)
}

func isALSExecutable(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".exe")
	return base == "als"
}

// WithProtocol はプロトコルを差し替えた接続先を返す。TCP は常にALS
func (e Endpoint) WithProtocol(p Protocol) Endpoint {
	if e.Launch == Spawn {
		e.Protocol = p
	}
	return e
}

// String は接続先を表示用の文字列にする
func (e Endpoint) String() string {
	if e.Launch == TCP {
		return lspScheme + "://" + e.Addr
	}
	return e.Path
}
