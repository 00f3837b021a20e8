package protocol

// Response はAgdaから受信するレスポンス
type Response interface {
	isResponse()
}

// Annotation はハイライト対象の区間
type Annotation struct {
	Start          int             `json:"start"`
	End            int             `json:"end"`
	Aspects        []string        `json:"aspects"`
	TokenBased     bool            `json:"isTokenBased"`
	Note           string          `json:"note,omitempty"`
	DefinitionSite *DefinitionSite `json:"definitionSite,omitempty"`
}

// DefinitionSite は定義位置
type DefinitionSite struct {
	File     string `json:"filepath"`
	Position int    `json:"position"`
}

// HighlightingInfoDirect はハイライト情報を直接渡す
type HighlightingInfoDirect struct {
	Remove      bool
	Annotations []Annotation
}

// HighlightingInfoIndirect はハイライト情報をファイル経由で渡す
type HighlightingInfoIndirect struct {
	File string
}

// ClearHighlighting はハイライトを消去する
type ClearHighlighting struct {
	TokenBased bool
}

// ClearRunningInfo は実行中の情報表示を消去する
type ClearRunningInfo struct{}

// RunningInfo は実行中の進捗メッセージ
type RunningInfo struct {
	Verbosity int
	Message   string
}

// Status は型検査の状態
type Status struct {
	ShowImplicit bool
	Checked      bool
}

// JumpToError はエラー位置へのジャンプ
type JumpToError struct {
	File   string
	Offset int
}

// InteractionPoints はゴールの一覧
type InteractionPoints struct {
	Goals []int
}

// GiveResultKind はGiveの結果の種類
type GiveResultKind int

const (
	GiveString GiveResultKind = iota
	GiveParen
	GiveNoParen
)

// GiveResult はGiveの結果。KindがGiveStringのときだけTextを持つ
type GiveResult struct {
	Kind GiveResultKind
	Text string
}

// GiveAction はゴールへの埋め込み結果
type GiveAction struct {
	Goal   int
	Result GiveResult
}

// MakeCaseKind は場合分けの対象
type MakeCaseKind int

const (
	MakeCaseFunction MakeCaseKind = iota
	MakeCaseExtendedLambda
)

// MakeCaseResult は場合分けで生成された節
type MakeCaseResult struct {
	Kind  MakeCaseKind
	Lines []string
}

// Solution はSolveAllの1つの解
type Solution struct {
	Goal int
	Expr string
}

// SolveAllResult は解決されたゴールの一覧
type SolveAllResult struct {
	Solutions []Solution
}

// DisplayInfo は情報パネルへの表示
type DisplayInfo struct {
	Info Info
}

// DoneAborting は中断の完了
type DoneAborting struct{}

// DoneExiting は終了の完了
type DoneExiting struct{}

func (HighlightingInfoDirect) isResponse()   {}
func (HighlightingInfoIndirect) isResponse() {}
func (ClearHighlighting) isResponse()        {}
func (ClearRunningInfo) isResponse()         {}
func (RunningInfo) isResponse()              {}
func (Status) isResponse()                   {}
func (JumpToError) isResponse()              {}
func (InteractionPoints) isResponse()        {}
func (GiveAction) isResponse()               {}
func (MakeCaseResult) isResponse()           {}
func (SolveAllResult) isResponse()           {}
func (DisplayInfo) isResponse()              {}
func (DoneAborting) isResponse()             {}
func (DoneExiting) isResponse()              {}

// Info はDisplayInfoの中身
type Info interface {
	isInfo()
}

// Item はゴールや警告などの表示項目。Labelは空でもよい
type Item struct {
	Label string
	Body  string
}

// InfoAllGoalsWarnings はゴールと警告・エラーの一覧
// Emacsプロトコルでは Title と Body のテキストのみ、ALSでは構造化されたフィールドを持つ
type InfoAllGoalsWarnings struct {
	Title    string
	Body     string
	Goals    []Item
	Metas    []Item
	Warnings []string
	Errors   []string
}

type InfoAuto struct{ Body string }

type InfoCompilationOk struct {
	Warnings []string
	Errors   []string
}

type InfoCurrentGoal struct{ Item Item }

type InfoError struct{ Body string }

// InfoGeneric はその他のタイトル付き表示（*Agda Version* を含む）
type InfoGeneric struct {
	Title string
	Items []Item
}

type InfoInferredType struct{ Item Item }

type InfoNormalForm struct{ Body string }

type InfoTime struct{ Body string }

func (InfoAllGoalsWarnings) isInfo() {}
func (InfoAuto) isInfo()             {}
func (InfoCompilationOk) isInfo()    {}
func (InfoCurrentGoal) isInfo()      {}
func (InfoError) isInfo()            {}
func (InfoGeneric) isInfo()          {}
func (InfoInferredType) isInfo()     {}
func (InfoNormalForm) isInfo()       {}
func (InfoTime) isInfo()             {}

// VersionTitle はバージョン表示のタイトル
const VersionTitle = "*Agda Version*"

// Text はItemを1つのテキストにする
func (i Item) Text() string {
	if i.Label == "" {
		return i.Body
	}
	return i.Label + " : " + i.Body
}
