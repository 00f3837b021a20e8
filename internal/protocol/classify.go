package protocol

import "fmt"

// Kind はレスポンスの配送区分
type Kind int

const (
	// NonLast は到着順にすぐ配送する情報レスポンス
	NonLast Kind = iota
	// Last は全てのNonLastの後に優先度順で配送する終端レスポンス
	Last
	// ParseError はデコードに失敗したフレーム
	ParseError
	// End はリクエストに対する応答の終わり。ハンドラには配送しない
	End
)

func (k Kind) String() string {
	switch k {
	case NonLast:
		return "non_last"
	case Last:
		return "last"
	case ParseError:
		return "parse_error"
	case End:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Prioritized は配送区分を付与したレスポンス
type Prioritized struct {
	Kind     Kind
	Priority int      // Lastのときのみ有効。小さいほど先
	Response Response // NonLast, Last
	Err      error    // ParseError
}

// 固定の優先度
const (
	PriorityInteractionPoints = 1
	PrioritySolveAll          = 2
	PriorityMakeCase          = 2
	PriorityJumpToError       = 3
)

// Classify はレスポンスを固定の表に従って分類する
func Classify(r Response) Prioritized {
	switch r.(type) {
	case InteractionPoints:
		return ClassifyLast(PriorityInteractionPoints, r)
	case SolveAllResult:
		return ClassifyLast(PrioritySolveAll, r)
	case MakeCaseResult:
		return ClassifyLast(PriorityMakeCase, r)
	case JumpToError:
		return ClassifyLast(PriorityJumpToError, r)
	default:
		return Prioritized{Kind: NonLast, Response: r}
	}
}

// ClassifyLast は明示された優先度でLastとして分類する
func ClassifyLast(priority int, r Response) Prioritized {
	return Prioritized{Kind: Last, Priority: priority, Response: r}
}

// EndOfResponses は応答の終わりを表す
func EndOfResponses() Prioritized {
	return Prioritized{Kind: End}
}

// Failed はデコード失敗を表す
func Failed(err error) Prioritized {
	return Prioritized{Kind: ParseError, Err: err}
}

func (p Prioritized) String() string {
	switch p.Kind {
	case Last:
		return fmt.Sprintf("[Last %d] %T", p.Priority, p.Response)
	case NonLast:
		return fmt.Sprintf("%T", p.Response)
	case ParseError:
		return fmt.Sprintf("parse error: %v", p.Err)
	default:
		return "========"
	}
}
