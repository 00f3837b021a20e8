package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	alsResponseType      = "ALS.Response"
	alsDisplayInfoType   = "ALS.DisplayInfo"
	alsItemType          = "ALS.Item"
	alsGiveResultType    = "ALS.GiveResult"
	alsCommandReqType    = "ALS.CommandReq"
	alsCommandResType    = "ALS.CommandRes"
	alsCommandErrType    = "ALS.CommandErr"
	alsEndTag            = "ResponseEnd"
	alsRequestMethod     = "agda"
	alsServerDisplayName = "Agda Language Server"
)

// ALSCodec はAgda Language ServerのJSONプロトコルのコーデック
type ALSCodec struct{}

// CommandRequest はALSに送るコマンド
type CommandRequest struct {
	SYN   bool   // ハンドシェイク
	IOTCM string // SYNでないときのIOTCM行
}

// CommandErr はALSがコマンドを受け付けなかった理由
type CommandErr struct {
	Kind   string // "CmdErrCannotDecodeJSON" または "CmdErrCannotParseCommand"
	Detail string
}

func (e *CommandErr) Error() string {
	switch e.Kind {
	case "CmdErrCannotDecodeJSON":
		return "cannot decode JSON: " + e.Detail
	case "CmdErrCannotParseCommand":
		return "cannot parse command: " + e.Detail
	default:
		return e.Kind + ": " + e.Detail
	}
}

// CommandResult はALSのコマンド結果
type CommandResult struct {
	ACK     bool   // ハンドシェイクの応答
	Version string // ACKのときのバージョン
	Err     *CommandErr
}

// EncodeRequest はリクエストを CmdReq にエンコードする
func (ALSCodec) EncodeRequest(req Request) ([]byte, error) {
	line, err := req.IOTCM()
	if err != nil {
		return nil, err
	}
	return EncodeSum("CmdReq", line)
}

// EncodeSYN はハンドシェイク要求をエンコードする
func (ALSCodec) EncodeSYN() ([]byte, error) {
	return EncodeSum("CmdReqSYN", nil)
}

// DecodeCommandRequest はクライアントから届いたコマンドをデコードする（サーバ側用）
func (ALSCodec) DecodeCommandRequest(data []byte) (CommandRequest, error) {
	return DecodeSum(alsCommandReqType, data, Decoders[CommandRequest]{
		"CmdReqSYN": tagOnly(CommandRequest{SYN: true}),
		"CmdReq": func(contents json.RawMessage) (CommandRequest, error) {
			var line string
			if err := strictUnmarshal(contents, &line); err != nil {
				return CommandRequest{}, err
			}
			return CommandRequest{IOTCM: line}, nil
		},
	})
}

// EncodeCommandResult はコマンド結果をエンコードする（サーバ側用）
func (ALSCodec) EncodeCommandResult(res CommandResult) ([]byte, error) {
	if res.ACK {
		return EncodeSum("CmdResACK", res.Version)
	}
	if res.Err == nil {
		return EncodeSum("CmdRes", json.RawMessage("null"))
	}
	errJSON, err := EncodeSum(res.Err.Kind, res.Err.Detail)
	if err != nil {
		return nil, err
	}
	return EncodeSum("CmdRes", json.RawMessage(errJSON))
}

// DecodeCommandResult はコマンド結果をデコードする
// 失敗は CannotDecodeCommandResult の *ProtocolError になる
func (ALSCodec) DecodeCommandResult(data []byte) (CommandResult, error) {
	res, err := DecodeSum(alsCommandResType, data, Decoders[CommandResult]{
		"CmdResACK": func(contents json.RawMessage) (CommandResult, error) {
			var version string
			if err := strictUnmarshal(contents, &version); err != nil {
				return CommandResult{}, err
			}
			return CommandResult{ACK: true, Version: version}, nil
		},
		"CmdRes": func(contents json.RawMessage) (CommandResult, error) {
			if isNull(contents) {
				return CommandResult{}, nil
			}
			cmdErr, err := decodeCommandErr(contents)
			if err != nil {
				return CommandResult{}, err
			}
			return CommandResult{Err: cmdErr}, nil
		},
	})
	if err != nil {
		return CommandResult{}, &ProtocolError{Kind: CannotDecodeCommandResult, Raw: string(data), Err: err}
	}
	return res, nil
}

func decodeCommandErr(data json.RawMessage) (*CommandErr, error) {
	detail := func(kind string) func(json.RawMessage) (*CommandErr, error) {
		return func(contents json.RawMessage) (*CommandErr, error) {
			var s string
			if err := strictUnmarshal(contents, &s); err != nil {
				return nil, err
			}
			return &CommandErr{Kind: kind, Detail: s}, nil
		}
	}
	return DecodeSum(alsCommandErrType, data, Decoders[*CommandErr]{
		"CmdErrCannotDecodeJSON":   detail("CmdErrCannotDecodeJSON"),
		"CmdErrCannotParseCommand": detail("CmdErrCannotParseCommand"),
	})
}

// DecodeResponse はALSから届いたレスポンスをデコードする
// 失敗は CannotDecodeResponse の *ProtocolError になり、原因の *DecodeError を包む
func (ALSCodec) DecodeResponse(frame []byte) (Prioritized, error) {
	p, err := DecodeSum(alsResponseType, frame, responseDecoders)
	if err != nil {
		perr := &ProtocolError{Kind: CannotDecodeResponse, Raw: string(frame), Err: err}
		return Failed(perr), perr
	}
	return p, nil
}

var responseDecoders = Decoders[Prioritized]{
	"ResponseHighlightingInfoDirect": func(c json.RawMessage) (Prioritized, error) {
		var r HighlightingInfoDirect
		if err := decodeTuple(c, &r.Remove, &r.Annotations); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseHighlightingInfoIndirect": func(c json.RawMessage) (Prioritized, error) {
		var r HighlightingInfoIndirect
		if err := strictUnmarshal(c, &r.File); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseClearHighlightingTokenBased":        tagOnly(Classify(ClearHighlighting{TokenBased: true})),
	"ResponseClearHighlightingNotOnlyTokenBased": tagOnly(Classify(ClearHighlighting{})),
	"ResponseClearRunningInfo":                   tagOnly(Classify(ClearRunningInfo{})),
	"ResponseRunningInfo": func(c json.RawMessage) (Prioritized, error) {
		var r RunningInfo
		if err := decodeTuple(c, &r.Verbosity, &r.Message); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseStatus": func(c json.RawMessage) (Prioritized, error) {
		var r Status
		if err := decodeTuple(c, &r.ShowImplicit, &r.Checked); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseJumpToError": func(c json.RawMessage) (Prioritized, error) {
		var r JumpToError
		if err := decodeTuple(c, &r.File, &r.Offset); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseInteractionPoints": func(c json.RawMessage) (Prioritized, error) {
		var r InteractionPoints
		if err := strictUnmarshal(c, &r.Goals); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	},
	"ResponseGiveAction": func(c json.RawMessage) (Prioritized, error) {
		var r GiveAction
		var result json.RawMessage
		if err := decodeTuple(c, &r.Goal, &result); err != nil {
			return Prioritized{}, err
		}
		give, err := decodeGiveResult(result)
		if err != nil {
			return Prioritized{}, err
		}
		r.Result = give
		return Classify(r), nil
	},
	"ResponseMakeCaseFunction":       decodeMakeCase(MakeCaseFunction),
	"ResponseMakeCaseExtendedLambda": decodeMakeCase(MakeCaseExtendedLambda),
	"ResponseSolveAll": func(c json.RawMessage) (Prioritized, error) {
		var pairs []json.RawMessage
		if err := strictUnmarshal(c, &pairs); err != nil {
			return Prioritized{}, err
		}
		var r SolveAllResult
		for _, pair := range pairs {
			var s Solution
			if err := decodeTuple(pair, &s.Goal, &s.Expr); err != nil {
				return Prioritized{}, err
			}
			r.Solutions = append(r.Solutions, s)
		}
		return Classify(r), nil
	},
	"ResponseDisplayInfo": func(c json.RawMessage) (Prioritized, error) {
		info, err := DecodeSum(alsDisplayInfoType, c, displayInfoDecoders)
		if err != nil {
			return Prioritized{}, err
		}
		return Classify(DisplayInfo{Info: info}), nil
	},
	"ResponseDoneAborting": tagOnly(Classify(DoneAborting{})),
	"ResponseDoneExiting":  tagOnly(Classify(DoneExiting{})),
	alsEndTag:              tagOnly(EndOfResponses()),
}

func decodeMakeCase(kind MakeCaseKind) func(json.RawMessage) (Prioritized, error) {
	return func(c json.RawMessage) (Prioritized, error) {
		r := MakeCaseResult{Kind: kind}
		if err := strictUnmarshal(c, &r.Lines); err != nil {
			return Prioritized{}, err
		}
		return Classify(r), nil
	}
}

func decodeGiveResult(data json.RawMessage) (GiveResult, error) {
	return DecodeSum(alsGiveResultType, data, Decoders[GiveResult]{
		"GiveString": func(c json.RawMessage) (GiveResult, error) {
			var s string
			if err := strictUnmarshal(c, &s); err != nil {
				return GiveResult{}, err
			}
			return GiveResult{Kind: GiveString, Text: s}, nil
		},
		"GiveParen":   tagOnly(GiveResult{Kind: GiveParen}),
		"GiveNoParen": tagOnly(GiveResult{Kind: GiveNoParen}),
	})
}

var displayInfoDecoders = Decoders[Info]{
	"DisplayInfoAllGoalsWarnings": func(c json.RawMessage) (Info, error) {
		var i InfoAllGoalsWarnings
		var goals, metas []json.RawMessage
		if err := decodeTuple(c, &i.Title, &goals, &metas, &i.Warnings, &i.Errors); err != nil {
			return nil, err
		}
		var err error
		if i.Goals, err = decodeItems(goals); err != nil {
			return nil, err
		}
		if i.Metas, err = decodeItems(metas); err != nil {
			return nil, err
		}
		return i, nil
	},
	"DisplayInfoAuto": func(c json.RawMessage) (Info, error) {
		var i InfoAuto
		if err := strictUnmarshal(c, &i.Body); err != nil {
			return nil, err
		}
		return i, nil
	},
	"DisplayInfoCompilationOk": func(c json.RawMessage) (Info, error) {
		var i InfoCompilationOk
		if err := decodeTuple(c, &i.Warnings, &i.Errors); err != nil {
			return nil, err
		}
		return i, nil
	},
	"DisplayInfoCurrentGoal": func(c json.RawMessage) (Info, error) {
		item, err := decodeItem(c)
		return InfoCurrentGoal{Item: item}, err
	},
	"DisplayInfoError": func(c json.RawMessage) (Info, error) {
		var i InfoError
		if err := strictUnmarshal(c, &i.Body); err != nil {
			return nil, err
		}
		return i, nil
	},
	"DisplayInfoGeneric": func(c json.RawMessage) (Info, error) {
		var i InfoGeneric
		var items []json.RawMessage
		if err := decodeTuple(c, &i.Title, &items); err != nil {
			return nil, err
		}
		var err error
		i.Items, err = decodeItems(items)
		return i, err
	},
	"DisplayInfoInferredType": func(c json.RawMessage) (Info, error) {
		item, err := decodeItem(c)
		return InfoInferredType{Item: item}, err
	},
	"DisplayInfoNormalForm": func(c json.RawMessage) (Info, error) {
		var i InfoNormalForm
		if err := strictUnmarshal(c, &i.Body); err != nil {
			return nil, err
		}
		return i, nil
	},
	"DisplayInfoTime": func(c json.RawMessage) (Info, error) {
		var i InfoTime
		if err := strictUnmarshal(c, &i.Body); err != nil {
			return nil, err
		}
		return i, nil
	},
}

func decodeItem(data json.RawMessage) (Item, error) {
	return DecodeSum(alsItemType, data, Decoders[Item]{
		"Labeled": func(c json.RawMessage) (Item, error) {
			var i Item
			if err := decodeTuple(c, &i.Label, &i.Body); err != nil {
				return Item{}, err
			}
			return i, nil
		},
		"Unlabeled": func(c json.RawMessage) (Item, error) {
			var i Item
			if err := strictUnmarshal(c, &i.Body); err != nil {
				return Item{}, err
			}
			return i, nil
		},
	})
}

func decodeItems(raw []json.RawMessage) ([]Item, error) {
	var items []Item
	for _, r := range raw {
		item, err := decodeItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// EncodeResponse はレスポンスをALSが送るJSONにエンコードする
// ALSの優先度はタグで決まるため、表と異なる優先度は表現できない
func (ALSCodec) EncodeResponse(p Prioritized) ([]byte, error) {
	switch p.Kind {
	case End:
		return EncodeSum(alsEndTag, nil)
	case ParseError:
		return nil, fmt.Errorf("cannot encode a parse error")
	}

	if want := Classify(p.Response); want.Kind != p.Kind || want.Priority != p.Priority {
		return nil, fmt.Errorf("ALS cannot carry %s as %s", p.String(), want.String())
	}

	switch r := p.Response.(type) {
	case HighlightingInfoDirect:
		anns := r.Annotations
		if anns == nil {
			anns = []Annotation{}
		}
		return EncodeSum("ResponseHighlightingInfoDirect", []any{r.Remove, anns})
	case HighlightingInfoIndirect:
		return EncodeSum("ResponseHighlightingInfoIndirect", r.File)
	case ClearHighlighting:
		if r.TokenBased {
			return EncodeSum("ResponseClearHighlightingTokenBased", nil)
		}
		return EncodeSum("ResponseClearHighlightingNotOnlyTokenBased", nil)
	case ClearRunningInfo:
		return EncodeSum("ResponseClearRunningInfo", nil)
	case RunningInfo:
		return EncodeSum("ResponseRunningInfo", []any{r.Verbosity, r.Message})
	case Status:
		return EncodeSum("ResponseStatus", []any{r.ShowImplicit, r.Checked})
	case JumpToError:
		return EncodeSum("ResponseJumpToError", []any{r.File, r.Offset})
	case InteractionPoints:
		return EncodeSum("ResponseInteractionPoints", nonNil(r.Goals))
	case GiveAction:
		give, err := encodeGiveResult(r.Result)
		if err != nil {
			return nil, err
		}
		return EncodeSum("ResponseGiveAction", []any{r.Goal, give})
	case MakeCaseResult:
		tag := "ResponseMakeCaseFunction"
		if r.Kind == MakeCaseExtendedLambda {
			tag = "ResponseMakeCaseExtendedLambda"
		}
		return EncodeSum(tag, nonNil(r.Lines))
	case SolveAllResult:
		pairs := make([]any, len(r.Solutions))
		for i, s := range r.Solutions {
			pairs[i] = []any{s.Goal, s.Expr}
		}
		return EncodeSum("ResponseSolveAll", pairs)
	case DisplayInfo:
		info, err := encodeInfo(r.Info)
		if err != nil {
			return nil, err
		}
		return EncodeSum("ResponseDisplayInfo", info)
	case DoneAborting:
		return EncodeSum("ResponseDoneAborting", nil)
	case DoneExiting:
		return EncodeSum("ResponseDoneExiting", nil)
	default:
		return nil, fmt.Errorf("cannot encode %T for ALS", r)
	}
}

func encodeGiveResult(g GiveResult) (json.RawMessage, error) {
	switch g.Kind {
	case GiveParen:
		return EncodeSum("GiveParen", nil)
	case GiveNoParen:
		return EncodeSum("GiveNoParen", nil)
	default:
		return EncodeSum("GiveString", g.Text)
	}
}

func encodeInfo(i Info) (json.RawMessage, error) {
	switch i := i.(type) {
	case InfoAllGoalsWarnings:
		goals, err := encodeItems(i.Goals)
		if err != nil {
			return nil, err
		}
		metas, err := encodeItems(i.Metas)
		if err != nil {
			return nil, err
		}
		return EncodeSum("DisplayInfoAllGoalsWarnings", []any{i.Title, goals, metas, nonNil(i.Warnings), nonNil(i.Errors)})
	case InfoAuto:
		return EncodeSum("DisplayInfoAuto", i.Body)
	case InfoCompilationOk:
		return EncodeSum("DisplayInfoCompilationOk", []any{nonNil(i.Warnings), nonNil(i.Errors)})
	case InfoCurrentGoal:
		item, err := encodeItem(i.Item)
		if err != nil {
			return nil, err
		}
		return EncodeSum("DisplayInfoCurrentGoal", item)
	case InfoError:
		return EncodeSum("DisplayInfoError", i.Body)
	case InfoGeneric:
		items, err := encodeItems(i.Items)
		if err != nil {
			return nil, err
		}
		return EncodeSum("DisplayInfoGeneric", []any{i.Title, items})
	case InfoInferredType:
		item, err := encodeItem(i.Item)
		if err != nil {
			return nil, err
		}
		return EncodeSum("DisplayInfoInferredType", item)
	case InfoNormalForm:
		return EncodeSum("DisplayInfoNormalForm", i.Body)
	case InfoTime:
		return EncodeSum("DisplayInfoTime", i.Body)
	default:
		return nil, fmt.Errorf("cannot encode %T for ALS", i)
	}
}

func encodeItem(i Item) (json.RawMessage, error) {
	if i.Label == "" {
		return EncodeSum("Unlabeled", i.Body)
	}
	return EncodeSum("Labeled", []any{i.Label, i.Body})
}

func encodeItems(items []Item) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := encodeItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// nonNil はnilスライスを空配列としてエンコードさせる
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isNull(data json.RawMessage) bool {
	s := string(data)
	return len(data) == 0 || s == "null"
}
