package protocol

import (
	"fmt"
	"strings"

	"github.com/y-oga-819/go-agda-connection/internal/sexp"
	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

const emacsType = "Emacs.Response"

// EmacsCodec は agda --interaction のS式プロトコルのコーデック
type EmacsCodec struct{}

// EncodeRequest はリクエストをIOTCM行にエンコードする
func (EmacsCodec) EncodeRequest(req Request) ([]byte, error) {
	line, err := req.IOTCM()
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// DecodeResponse はstdoutの1フレームをデコードする
// 先頭のプロンプトは取り除き、プロンプトだけのフレームは End になる
func (EmacsCodec) DecodeResponse(frame []byte) (Prioritized, error) {
	line := string(frame)
	prompted := strings.HasPrefix(line, transport.Prompt)
	line = strings.TrimSpace(strings.TrimPrefix(line, transport.Prompt))

	if line == "" {
		if prompted {
			return EndOfResponses(), nil
		}
		err := malformed(emacsType, "", "empty frame")
		return Failed(err), err
	}

	v, err := sexp.Parse(line)
	if err != nil {
		derr := malformed(emacsType, "", "%v: %s", err, line)
		return Failed(derr), derr
	}

	p, derr := decodeEmacsValue(v)
	if derr != nil {
		return Failed(derr), derr
	}
	return p, nil
}

func decodeEmacsValue(v sexp.Value) (Prioritized, *DecodeError) {
	// ((last . N) . (head args...)) はドット対の展開で ((last N) head args...) になる
	if v.Kind == sexp.KindList && len(v.List) > 1 {
		marker := v.List[0]
		if marker.Kind == sexp.KindList && len(marker.List) == 2 && marker.List[0].IsAtom("last") {
			priority, err := marker.List[1].AsInt()
			if err != nil {
				return Prioritized{}, malformed(emacsType, "last", "%v", err)
			}
			resp, derr := decodeEmacsCall(sexp.List(v.List[1:]...))
			if derr != nil {
				return Prioritized{}, derr
			}
			return ClassifyLast(priority, resp), nil
		}
	}

	resp, derr := decodeEmacsCall(v)
	if derr != nil {
		return Prioritized{}, derr
	}
	return Classify(resp), nil
}

func decodeEmacsCall(v sexp.Value) (Response, *DecodeError) {
	var head sexp.Value
	var args []sexp.Value
	switch v.Kind {
	case sexp.KindAtom:
		head = v
	case sexp.KindList:
		if len(v.List) == 0 {
			return nil, malformed(emacsType, "", "empty list")
		}
		head, args = v.List[0], v.List[1:]
	default:
		return nil, malformed(emacsType, "", "unexpected string %q", v.Text)
	}
	if head.Kind != sexp.KindAtom {
		return nil, malformed(emacsType, "", "head is not a symbol: %s", head)
	}

	a := emacsArgs{head: head.Text, args: args}
	var resp Response
	switch head.Text {
	case "agda2-status-action":
		s := a.str(0)
		var status Status
		for _, part := range strings.Split(s, ",") {
			switch strings.TrimSpace(part) {
			case "Checked":
				status.Checked = true
			case "ShowImplicit":
				status.ShowImplicit = true
			}
		}
		resp = status

	case "agda2-info-action", "agda2-info-action-and-copy":
		resp = decodeEmacsInfo(a.str(0), a.optStr(1))

	case "agda2-verbose":
		resp = RunningInfo{Verbosity: 2, Message: a.str(0)}

	case "agda2-highlight-clear":
		tokenBased := len(args) > 0 && args[0].IsAtom("token-based")
		resp = ClearHighlighting{TokenBased: tokenBased}

	case "agda2-highlight-add-annotations":
		direct := HighlightingInfoDirect{Remove: len(args) > 0 && args[0].IsAtom("remove")}
		for i := 1; i < len(args); i++ {
			ann, err := decodeAnnotation(args[i])
			if err != nil {
				a.fail(err)
				break
			}
			direct.Annotations = append(direct.Annotations, ann)
		}
		resp = direct

	case "agda2-highlight-load-and-delete-action":
		resp = HighlightingInfoIndirect{File: a.str(0)}

	case "agda2-goals-action":
		var goals []int
		for _, item := range a.list(0) {
			n, err := item.AsInt()
			if err != nil {
				a.fail(err)
				break
			}
			goals = append(goals, n)
		}
		resp = InteractionPoints{Goals: goals}

	case "agda2-give-action":
		give := GiveAction{Goal: a.num(0)}
		switch {
		case len(args) < 2:
			a.fail(fmt.Errorf("missing give result"))
		case args[1].Kind == sexp.KindString:
			give.Result = GiveResult{Kind: GiveString, Text: args[1].Text}
		case args[1].IsAtom("paren"):
			give.Result = GiveResult{Kind: GiveParen}
		case args[1].IsAtom("no-paren"):
			give.Result = GiveResult{Kind: GiveNoParen}
		default:
			a.fail(fmt.Errorf("unexpected give result %s", args[1]))
		}
		resp = give

	case "agda2-make-case-action", "agda2-make-case-action-extendlam":
		mc := MakeCaseResult{Kind: MakeCaseFunction}
		if head.Text == "agda2-make-case-action-extendlam" {
			mc.Kind = MakeCaseExtendedLambda
		}
		for _, item := range a.list(0) {
			s, err := item.AsString()
			if err != nil {
				a.fail(err)
				break
			}
			mc.Lines = append(mc.Lines, s)
		}
		resp = mc

	case "agda2-solveAll-action":
		items := a.list(0)
		if len(items)%2 != 0 {
			a.fail(fmt.Errorf("odd number of elements in solutions"))
			break
		}
		var solveAll SolveAllResult
		for i := 0; i < len(items); i += 2 {
			goal, err := items[i].AsInt()
			if err != nil {
				a.fail(err)
				break
			}
			expr, err := items[i+1].AsString()
			if err != nil {
				a.fail(err)
				break
			}
			solveAll.Solutions = append(solveAll.Solutions, Solution{Goal: goal, Expr: expr})
		}
		resp = solveAll

	case "agda2-maybe-goto":
		loc := a.list(0)
		if len(loc) != 2 {
			a.fail(fmt.Errorf("expected (file . offset)"))
			break
		}
		file, err := loc[0].AsString()
		if err != nil {
			a.fail(err)
			break
		}
		offset, err := loc[1].AsInt()
		if err != nil {
			a.fail(err)
			break
		}
		resp = JumpToError{File: file, Offset: offset}

	case "agda2-abort-done":
		resp = DoneAborting{}

	case "agda2-exit-done":
		resp = DoneExiting{}

	default:
		return nil, unknownTag(emacsType, head.Text)
	}

	if a.err != nil {
		return nil, a.err
	}
	return resp, nil
}

// decodeEmacsInfo は情報パネルのタイトルでレスポンスを振り分ける
func decodeEmacsInfo(title, body string) Response {
	switch {
	case title == "*Type-checking*":
		if body == "" {
			return ClearRunningInfo{}
		}
		return RunningInfo{Verbosity: 1, Message: body}
	case strings.HasPrefix(title, "*All"):
		return DisplayInfo{Info: InfoAllGoalsWarnings{Title: title, Body: body}}
	case title == "*Error*":
		return DisplayInfo{Info: InfoError{Body: body}}
	case title == "*Current Goal*", title == "*Goal type etc.*":
		return DisplayInfo{Info: InfoCurrentGoal{Item: Item{Body: body}}}
	case title == "*Inferred Type*":
		return DisplayInfo{Info: InfoInferredType{Item: Item{Body: body}}}
	case title == "*Normal Form*":
		return DisplayInfo{Info: InfoNormalForm{Body: body}}
	case title == "*Auto*":
		return DisplayInfo{Info: InfoAuto{Body: body}}
	case title == "*Time*":
		return DisplayInfo{Info: InfoTime{Body: body}}
	case title == "*Compilation result*":
		var ok InfoCompilationOk
		if body != "" {
			ok.Warnings = []string{body}
		}
		return DisplayInfo{Info: ok}
	default:
		return DisplayInfo{Info: InfoGeneric{Title: title, Items: []Item{{Body: body}}}}
	}
}

// decodeAnnotation は (start end (aspects...) token-based note (file . pos)) をデコードする
func decodeAnnotation(v sexp.Value) (Annotation, error) {
	items, err := v.AsList()
	if err != nil {
		return Annotation{}, err
	}
	if len(items) < 3 {
		return Annotation{}, fmt.Errorf("annotation too short: %s", v)
	}

	var ann Annotation
	if ann.Start, err = items[0].AsInt(); err != nil {
		return Annotation{}, err
	}
	if ann.End, err = items[1].AsInt(); err != nil {
		return Annotation{}, err
	}
	aspects, err := items[2].AsList()
	if err != nil {
		return Annotation{}, err
	}
	for _, aspect := range aspects {
		ann.Aspects = append(ann.Aspects, aspect.Text)
	}

	if len(items) > 3 {
		ann.TokenBased = !items[3].IsNil()
	}
	if len(items) > 4 && items[4].Kind == sexp.KindString {
		ann.Note = items[4].Text
	}
	if len(items) > 5 {
		site, err := items[5].AsList()
		if err != nil || len(site) != 2 {
			return Annotation{}, fmt.Errorf("malformed definition site: %s", items[5])
		}
		file, err := site[0].AsString()
		if err != nil {
			return Annotation{}, err
		}
		pos, err := site[1].AsInt()
		if err != nil {
			return Annotation{}, err
		}
		ann.DefinitionSite = &DefinitionSite{File: file, Position: pos}
	}
	return ann, nil
}

// emacsArgs は引数の取り出しで最初のエラーを記録する
type emacsArgs struct {
	head string
	args []sexp.Value
	err  *DecodeError
}

func (a *emacsArgs) fail(err error) {
	if a.err == nil {
		a.err = malformed(emacsType, a.head, "%v", err)
	}
}

func (a *emacsArgs) arg(i int) (sexp.Value, bool) {
	if i >= len(a.args) {
		a.fail(fmt.Errorf("missing argument %d", i))
		return sexp.Value{}, false
	}
	return a.args[i], true
}

func (a *emacsArgs) str(i int) string {
	v, ok := a.arg(i)
	if !ok {
		return ""
	}
	s, err := v.AsString()
	if err != nil {
		a.fail(err)
	}
	return s
}

// optStr は省略可能な文字列引数。nil は空文字列として扱う
func (a *emacsArgs) optStr(i int) string {
	if i >= len(a.args) || a.args[i].IsAtom("nil") {
		return ""
	}
	return a.str(i)
}

func (a *emacsArgs) num(i int) int {
	v, ok := a.arg(i)
	if !ok {
		return 0
	}
	n, err := v.AsInt()
	if err != nil {
		a.fail(err)
	}
	return n
}

func (a *emacsArgs) list(i int) []sexp.Value {
	v, ok := a.arg(i)
	if !ok {
		return nil
	}
	items, err := v.AsList()
	if err != nil {
		a.fail(err)
	}
	return items
}

// EncodeResponse はレスポンスを agda --interaction が出力する行にエンコードする
func (EmacsCodec) EncodeResponse(p Prioritized) ([]byte, error) {
	switch p.Kind {
	case End:
		return []byte(transport.Prompt), nil
	case ParseError:
		return nil, fmt.Errorf("cannot encode a parse error")
	}

	call, err := encodeEmacsCall(p.Response)
	if err != nil {
		return nil, err
	}

	// NonLastとして分類されるレスポンスもLastに指定されていれば明示する
	if p.Kind == Last {
		call = sexp.List(sexp.List(sexp.Atom("last"), sexp.Atom("."), sexp.Int(p.Priority)), sexp.Atom("."), call)
	}
	return []byte(call.String()), nil
}

func encodeEmacsCall(r Response) (sexp.Value, error) {
	call := func(head string, args ...sexp.Value) sexp.Value {
		return sexp.List(append([]sexp.Value{sexp.Atom(head)}, args...)...)
	}
	info := func(title, body string) sexp.Value {
		return call("agda2-info-action", sexp.String(title), sexp.String(body), sexp.Nil)
	}

	switch r := r.(type) {
	case Status:
		var flags []string
		if r.Checked {
			flags = append(flags, "Checked")
		}
		if r.ShowImplicit {
			flags = append(flags, "ShowImplicit")
		}
		return call("agda2-status-action", sexp.String(strings.Join(flags, ","))), nil

	case DisplayInfo:
		title, body, err := encodeEmacsInfo(r.Info)
		if err != nil {
			return sexp.Value{}, err
		}
		return info(title, body), nil

	case RunningInfo:
		switch r.Verbosity {
		case 1:
			// 空の本文は ClearRunningInfo として読まれる
			if r.Message == "" {
				return sexp.Value{}, unrepresentable(r, "empty type-checking message")
			}
			return call("agda2-info-action", sexp.String("*Type-checking*"), sexp.String(r.Message), sexp.Atom("t")), nil
		case 2:
			return call("agda2-verbose", sexp.String(r.Message)), nil
		default:
			return sexp.Value{}, unrepresentable(r, "verbosity %d", r.Verbosity)
		}

	case ClearRunningInfo:
		return info("*Type-checking*", ""), nil

	case ClearHighlighting:
		if r.TokenBased {
			return call("agda2-highlight-clear", sexp.Quote(sexp.Atom("token-based"))), nil
		}
		return call("agda2-highlight-clear"), nil

	case HighlightingInfoDirect:
		remove := sexp.Quote(sexp.Nil)
		if r.Remove {
			remove = sexp.Quote(sexp.Atom("remove"))
		}
		args := []sexp.Value{remove}
		for _, ann := range r.Annotations {
			args = append(args, sexp.Quote(encodeAnnotation(ann)))
		}
		return call("agda2-highlight-add-annotations", args...), nil

	case HighlightingInfoIndirect:
		return call("agda2-highlight-load-and-delete-action", sexp.String(r.File)), nil

	case InteractionPoints:
		goals := make([]sexp.Value, len(r.Goals))
		for i, g := range r.Goals {
			goals[i] = sexp.Int(g)
		}
		return call("agda2-goals-action", sexp.Quote(sexp.List(goals...))), nil

	case GiveAction:
		var result sexp.Value
		switch r.Result.Kind {
		case GiveParen:
			result = sexp.Quote(sexp.Atom("paren"))
		case GiveNoParen:
			result = sexp.Quote(sexp.Atom("no-paren"))
		default:
			result = sexp.String(r.Result.Text)
		}
		return call("agda2-give-action", sexp.Int(r.Goal), result), nil

	case MakeCaseResult:
		head := "agda2-make-case-action"
		if r.Kind == MakeCaseExtendedLambda {
			head = "agda2-make-case-action-extendlam"
		}
		lines := make([]sexp.Value, len(r.Lines))
		for i, l := range r.Lines {
			lines[i] = sexp.String(l)
		}
		return call(head, sexp.Quote(sexp.List(lines...))), nil

	case SolveAllResult:
		var items []sexp.Value
		for _, s := range r.Solutions {
			items = append(items, sexp.Int(s.Goal), sexp.String(s.Expr))
		}
		return call("agda2-solveAll-action", sexp.Quote(sexp.List(items...))), nil

	case JumpToError:
		loc := sexp.List(sexp.String(r.File), sexp.Atom("."), sexp.Int(r.Offset))
		return call("agda2-maybe-goto", sexp.Quote(loc)), nil

	case DoneAborting:
		return call("agda2-abort-done"), nil

	case DoneExiting:
		return call("agda2-exit-done"), nil

	default:
		return sexp.Value{}, fmt.Errorf("cannot encode %T for Emacs", r)
	}
}

// encodeEmacsInfo は情報パネルのタイトルと本文に戻す
// decodeEmacsInfo で同じ値に戻らないものはエラーにする
func encodeEmacsInfo(i Info) (title, body string, err error) {
	switch i := i.(type) {
	case InfoAllGoalsWarnings:
		if !strings.HasPrefix(i.Title, "*All") {
			return "", "", unrepresentable(i, "title %q", i.Title)
		}
		if len(i.Goals) > 0 || len(i.Metas) > 0 || len(i.Warnings) > 0 || len(i.Errors) > 0 {
			return "", "", unrepresentable(i, "structured fields")
		}
		return i.Title, i.Body, nil
	case InfoAuto:
		return "*Auto*", i.Body, nil
	case InfoCompilationOk:
		if len(i.Errors) > 0 {
			return "", "", unrepresentable(i, "errors")
		}
		switch {
		case len(i.Warnings) == 0:
			return "*Compilation result*", "", nil
		case len(i.Warnings) > 1 || i.Warnings[0] == "":
			return "", "", unrepresentable(i, "%d warnings", len(i.Warnings))
		}
		return "*Compilation result*", i.Warnings[0], nil
	case InfoCurrentGoal:
		if i.Item.Label != "" {
			return "", "", unrepresentable(i, "labelled item")
		}
		return "*Current Goal*", i.Item.Body, nil
	case InfoError:
		return "*Error*", i.Body, nil
	case InfoGeneric:
		if len(i.Items) != 1 || i.Items[0].Label != "" {
			return "", "", unrepresentable(i, "%d items", len(i.Items))
		}
		if d, ok := decodeEmacsInfo(i.Title, i.Items[0].Body).(DisplayInfo); !ok || !isGeneric(d.Info) {
			return "", "", unrepresentable(i, "reserved title %q", i.Title)
		}
		return i.Title, i.Items[0].Body, nil
	case InfoInferredType:
		if i.Item.Label != "" {
			return "", "", unrepresentable(i, "labelled item")
		}
		return "*Inferred Type*", i.Item.Body, nil
	case InfoNormalForm:
		return "*Normal Form*", i.Body, nil
	case InfoTime:
		return "*Time*", i.Body, nil
	default:
		return "", "", fmt.Errorf("cannot encode %T for Emacs", i)
	}
}

func isGeneric(i Info) bool {
	_, ok := i.(InfoGeneric)
	return ok
}

func unrepresentable(v any, format string, args ...any) error {
	return fmt.Errorf("cannot encode %T for Emacs: %s", v, fmt.Sprintf(format, args...))
}

func encodeAnnotation(ann Annotation) sexp.Value {
	aspects := make([]sexp.Value, len(ann.Aspects))
	for i, a := range ann.Aspects {
		aspects[i] = sexp.Atom(a)
	}

	tokenBased := sexp.Nil
	if ann.TokenBased {
		tokenBased = sexp.Atom("t")
	}
	note := sexp.Nil
	if ann.Note != "" {
		note = sexp.String(ann.Note)
	}

	items := []sexp.Value{sexp.Int(ann.Start), sexp.Int(ann.End), sexp.List(aspects...), tokenBased, note}
	if ann.DefinitionSite != nil {
		items = append(items, sexp.List(sexp.String(ann.DefinitionSite.File), sexp.Atom("."), sexp.Int(ann.DefinitionSite.Position)))
	}
	return sexp.List(items...)
}
