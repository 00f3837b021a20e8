package protocol

// Variant は接続先が話すプロトコル
type Variant int

const (
	// Emacs は agda --interaction のS式プロトコル
	Emacs Variant = iota
	// ALS はAgda Language ServerのJSON-RPCプロトコル
	ALS
)

func (v Variant) String() string {
	switch v {
	case Emacs:
		return "emacs"
	case ALS:
		return "als"
	default:
		return "unknown"
	}
}

// Codec はリクエストとレスポンスのワイヤ形式を扱う
type Codec interface {
	// EncodeRequest はリクエストを送信用にエンコードする
	EncodeRequest(req Request) ([]byte, error)

	// DecodeResponse は受信した1フレームをデコードする
	// 失敗時は Kind が ParseError の Prioritized とエラーの両方を返す
	DecodeResponse(frame []byte) (Prioritized, error)

	// EncodeResponse はレスポンスをバックエンドが送る形式にエンコードする
	EncodeResponse(p Prioritized) ([]byte, error)
}

var (
	_ Codec = EmacsCodec{}
	_ Codec = ALSCodec{}
)
