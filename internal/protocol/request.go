package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/y-oga-819/go-agda-connection/internal/sexp"
)

// HighlightingLevel はIOTCMのハイライトレベル
type HighlightingLevel string

const (
	LevelNone           HighlightingLevel = "None"
	LevelNonInteractive HighlightingLevel = "NonInteractive"
	LevelInteractive    HighlightingLevel = "Interactive"
)

// HighlightingMethod はハイライト情報の受け渡し方法
type HighlightingMethod string

const (
	MethodDirect   HighlightingMethod = "Direct"
	MethodIndirect HighlightingMethod = "Indirect"
)

// Normalization は式を表示する際の正規化の度合い
type Normalization string

const (
	AsIs         Normalization = "AsIs"
	Instantiated Normalization = "Instantiated"
	HeadNormal   Normalization = "HeadNormal"
	Simplified   Normalization = "Simplified"
	Normalised   Normalization = "Normalised"
)

// ComputeMode は正規形計算のモード
type ComputeMode string

const (
	DefaultCompute  ComputeMode = "DefaultCompute"
	IgnoreAbstract  ComputeMode = "IgnoreAbstract"
	UseShowInstance ComputeMode = "UseShowInstance"
)

// Context はリクエストの対象ファイルとハイライト設定
type Context struct {
	File   string
	Level  HighlightingLevel
	Method HighlightingMethod
}

// Position はソース上の位置（offsetは1始まりのコードポイント数）
type Position struct {
	Offset int
	Line   int
	Column int
}

// Interval はソース上の区間
type Interval struct {
	Start Position
	End   Position
}

// Range はファイル上の区間の列。Intervalsが空なら noRange
type Range struct {
	File      string
	Intervals []Interval
}

// Goal はゴールを対象とするコマンドの引数
type Goal struct {
	ID      int
	Range   Range
	Content string
}

// Command はAgdaに送るコマンド
type Command interface {
	// Name はコマンドの名前を返す（ログ・メトリクス用）
	Name() string
	encode(ctx Context) string
}

// Request は1回のIOTCM送信に対応するリクエスト
type Request struct {
	Context Context
	Command Command
}

// IOTCM はリクエストをIOTCM行にエンコードする
func (r Request) IOTCM() (string, error) {
	if r.Command == nil {
		return "", fmt.Errorf("request has no command")
	}

	level := r.Context.Level
	if level == "" {
		level = LevelNonInteractive
	}
	method := r.Context.Method
	if method == "" {
		method = MethodDirect
	}

	return fmt.Sprintf("IOTCM %s %s %s (%s)",
		sexp.Escape(r.Context.File), level, method, r.Command.encode(r.Context)), nil
}

// Load はファイルを読み込み型検査する
type Load struct {
	Flags []string
}

func (Load) Name() string { return "Load" }
func (c Load) encode(ctx Context) string {
	return fmt.Sprintf("Cmd_load %s %s", sexp.Escape(ctx.File), stringList(c.Flags))
}

// Compile はファイルをコンパイルする
type Compile struct {
	Backend string
	Flags   []string
}

func (Compile) Name() string { return "Compile" }
func (c Compile) encode(ctx Context) string {
	backend := c.Backend
	if backend == "" {
		backend = "GHC"
	}
	return fmt.Sprintf("Cmd_compile %s %s %s", backend, sexp.Escape(ctx.File), stringList(c.Flags))
}

// Constraints は制約の一覧を要求する
type Constraints struct{}

func (Constraints) Name() string          { return "Constraints" }
func (Constraints) encode(Context) string { return "Cmd_constraints" }

// SolveAll は全ゴールの解決を試みる
type SolveAll struct {
	Normalization Normalization
}

func (SolveAll) Name() string { return "SolveAll" }
func (c SolveAll) encode(Context) string {
	return "Cmd_solveAll " + string(norm(c.Normalization))
}

// ShowGoals はゴールの一覧を要求する
type ShowGoals struct {
	Normalization Normalization
}

func (ShowGoals) Name() string { return "ShowGoals" }
func (c ShowGoals) encode(Context) string {
	return "Cmd_metas " + string(norm(c.Normalization))
}

// Give はゴールに式を埋める
type Give struct {
	Goal Goal
}

func (Give) Name() string { return "Give" }
func (c Give) encode(ctx Context) string {
	return "Cmd_give WithoutForce " + goalArgs(ctx, c.Goal)
}

// Refine はゴールを詳細化する
type Refine struct {
	Goal Goal
}

func (Refine) Name() string { return "Refine" }
func (c Refine) encode(ctx Context) string {
	return "Cmd_refine_or_intro False " + goalArgs(ctx, c.Goal)
}

// MakeCase はゴールで場合分けする
type MakeCase struct {
	Goal Goal
}

func (MakeCase) Name() string { return "MakeCase" }
func (c MakeCase) encode(ctx Context) string {
	return "Cmd_make_case " + goalArgs(ctx, c.Goal)
}

// Infer は式の型を推論する。Goalがnilならトップレベルで推論する
type Infer struct {
	Normalization Normalization
	Goal          *Goal
	Expr          string
}

func (Infer) Name() string { return "Infer" }
func (c Infer) encode(ctx Context) string {
	n := norm(c.Normalization)
	if c.Goal == nil {
		return fmt.Sprintf("Cmd_infer_toplevel %s %s", n, sexp.Escape(c.Expr))
	}
	return fmt.Sprintf("Cmd_infer %s %s", n, goalArgs(ctx, *c.Goal))
}

// GoalType はゴールの型を要求する
type GoalType struct {
	Normalization Normalization
	GoalID        int
}

func (GoalType) Name() string { return "GoalType" }
func (c GoalType) encode(Context) string {
	return fmt.Sprintf("Cmd_goal_type %s %d noRange \"\"", norm(c.Normalization), c.GoalID)
}

// GoalTypeContext はゴールの型と文脈を要求する
type GoalTypeContext struct {
	Normalization Normalization
	GoalID        int
}

func (GoalTypeContext) Name() string { return "GoalTypeContext" }
func (c GoalTypeContext) encode(Context) string {
	return fmt.Sprintf("Cmd_goal_type_context %s %d noRange \"\"", norm(c.Normalization), c.GoalID)
}

// Compute は式の正規形を計算する。Goalがnilならトップレベルで計算する
type Compute struct {
	Mode ComputeMode
	Goal *Goal
	Expr string
}

func (Compute) Name() string { return "Compute" }
func (c Compute) encode(ctx Context) string {
	mode := c.Mode
	if mode == "" {
		mode = DefaultCompute
	}
	if c.Goal == nil {
		return fmt.Sprintf("Cmd_compute_toplevel %s %s", mode, sexp.Escape(c.Expr))
	}
	return fmt.Sprintf("Cmd_compute %s %s", mode, goalArgs(ctx, *c.Goal))
}

// WhyInScope は名前がスコープにある理由を要求する
type WhyInScope struct {
	Goal *Goal
	Expr string
}

func (WhyInScope) Name() string { return "WhyInScope" }
func (c WhyInScope) encode(ctx Context) string {
	if c.Goal == nil {
		return "Cmd_why_in_scope_toplevel " + sexp.Escape(c.Expr)
	}
	return "Cmd_why_in_scope " + goalArgs(ctx, *c.Goal)
}

// SearchAbout は名前を検索する
type SearchAbout struct {
	Normalization Normalization
	Expr          string
}

func (SearchAbout) Name() string { return "SearchAbout" }
func (c SearchAbout) encode(Context) string {
	return fmt.Sprintf("Cmd_search_about_toplevel %s %s", norm(c.Normalization), sexp.Escape(c.Expr))
}

// Abort は実行中のコマンドを中断する
type Abort struct{}

func (Abort) Name() string          { return "Abort" }
func (Abort) encode(Context) string { return "Cmd_abort" }

// ShowVersion はAgdaのバージョンを要求する
type ShowVersion struct{}

func (ShowVersion) Name() string          { return "ShowVersion" }
func (ShowVersion) encode(Context) string { return "Cmd_show_version" }

func norm(n Normalization) Normalization {
	if n == "" {
		return Simplified
	}
	return n
}

func stringList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = sexp.Escape(item)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func goalArgs(ctx Context, g Goal) string {
	return fmt.Sprintf("%d %s %s", g.ID, encodeRange(ctx, g.Range), sexp.Escape(g.Content))
}

func encodeRange(ctx Context, r Range) string {
	if len(r.Intervals) == 0 {
		return "noRange"
	}

	file := r.File
	if file == "" {
		file = ctx.File
	}

	intervals := make([]string, len(r.Intervals))
	for i, iv := range r.Intervals {
		intervals[i] = fmt.Sprintf("Interval %s %s", encodePosition(iv.Start), encodePosition(iv.End))
	}

	return fmt.Sprintf("(intervalsToRange (Just (mkAbsolute %s)) [%s])",
		sexp.Escape(file), strings.Join(intervals, ","))
}

func encodePosition(p Position) string {
	return "(Pn () " + strconv.Itoa(p.Offset) + " " + strconv.Itoa(p.Line) + " " + strconv.Itoa(p.Column) + ")"
}
