package agda

import "github.com/y-oga-819/go-agda-connection/internal/protocol"

// リクエスト
type (
	Request            = protocol.Request
	Context            = protocol.Context
	Command            = protocol.Command
	Goal               = protocol.Goal
	Range              = protocol.Range
	Interval           = protocol.Interval
	Position           = protocol.Position
	Normalization      = protocol.Normalization
	ComputeMode        = protocol.ComputeMode
	HighlightingLevel  = protocol.HighlightingLevel
	HighlightingMethod = protocol.HighlightingMethod
)

// コマンド
type (
	Load            = protocol.Load
	Compile         = protocol.Compile
	Constraints     = protocol.Constraints
	SolveAll        = protocol.SolveAll
	ShowGoals       = protocol.ShowGoals
	Give            = protocol.Give
	Refine          = protocol.Refine
	MakeCase        = protocol.MakeCase
	Infer           = protocol.Infer
	GoalType        = protocol.GoalType
	GoalTypeContext = protocol.GoalTypeContext
	Compute         = protocol.Compute
	WhyInScope      = protocol.WhyInScope
	SearchAbout     = protocol.SearchAbout
	Abort           = protocol.Abort
	ShowVersion     = protocol.ShowVersion
)

// レスポンス
type (
	Response                 = protocol.Response
	HighlightingInfoDirect   = protocol.HighlightingInfoDirect
	HighlightingInfoIndirect = protocol.HighlightingInfoIndirect
	ClearHighlighting        = protocol.ClearHighlighting
	ClearRunningInfo         = protocol.ClearRunningInfo
	RunningInfo              = protocol.RunningInfo
	Status                   = protocol.Status
	JumpToError              = protocol.JumpToError
	InteractionPoints        = protocol.InteractionPoints
	GiveAction               = protocol.GiveAction
	MakeCaseResult           = protocol.MakeCaseResult
	SolveAllResult           = protocol.SolveAllResult
	DisplayInfo              = protocol.DisplayInfo
	DoneAborting             = protocol.DoneAborting
	DoneExiting              = protocol.DoneExiting
)

// 表示情報
type (
	Info                 = protocol.Info
	Item                 = protocol.Item
	InfoAllGoalsWarnings = protocol.InfoAllGoalsWarnings
	InfoAuto             = protocol.InfoAuto
	InfoCompilationOk    = protocol.InfoCompilationOk
	InfoCurrentGoal      = protocol.InfoCurrentGoal
	InfoError            = protocol.InfoError
	InfoGeneric          = protocol.InfoGeneric
	InfoInferredType     = protocol.InfoInferredType
	InfoNormalForm       = protocol.InfoNormalForm
	InfoTime             = protocol.InfoTime
)

const (
	AsIs       = protocol.AsIs
	Simplified = protocol.Simplified
	Normalised = protocol.Normalised

	LevelNone           = protocol.LevelNone
	LevelNonInteractive = protocol.LevelNonInteractive
	LevelInteractive    = protocol.LevelInteractive
)
