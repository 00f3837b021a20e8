package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/y-oga-819/go-agda-connection/agda"
	"github.com/y-oga-819/go-agda-connection/internal/segment"
)

// render はレスポンスを1件表示する。ハイライト関係は件数だけ出す
func render(w io.Writer, resp agda.Response) error {
	var b strings.Builder

	switch r := resp.(type) {
	case agda.Status:
		fmt.Fprintf(&b, "status: checked=%t implicit=%t\n", r.Checked, r.ShowImplicit)
	case agda.RunningInfo:
		fmt.Fprintf(&b, "running: %s\n", r.Message)
	case agda.ClearRunningInfo:
		return nil
	case agda.InteractionPoints:
		goals := make([]string, len(r.Goals))
		for i, g := range r.Goals {
			goals[i] = fmt.Sprintf("?%d", g)
		}
		fmt.Fprintf(&b, "goals: %s\n", strings.Join(goals, " "))
	case agda.SolveAllResult:
		for _, s := range r.Solutions {
			fmt.Fprintf(&b, "solved: ?%d := %s\n", s.Goal, s.Expr)
		}
	case agda.MakeCaseResult:
		b.WriteString("case split:\n")
		for _, line := range r.Lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	case agda.GiveAction:
		fmt.Fprintf(&b, "give: ?%d\n", r.Goal)
	case agda.JumpToError:
		fmt.Fprintf(&b, "error at: %s:%d\n", r.File, r.Offset)
	case agda.HighlightingInfoDirect:
		fmt.Fprintf(&b, "highlighting: %d annotations\n", len(r.Annotations))
	case agda.HighlightingInfoIndirect:
		fmt.Fprintf(&b, "highlighting: %s\n", r.File)
	case agda.ClearHighlighting:
		b.WriteString("highlighting: cleared\n")
	case agda.DisplayInfo:
		renderInfo(&b, r.Info)
	default:
		fmt.Fprintf(&b, "%T\n", resp)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderInfo(b *strings.Builder, info agda.Info) {
	switch i := info.(type) {
	case agda.InfoAllGoalsWarnings:
		if i.Title != "" {
			renderSections(b, i.Title, segment.ParseAllGoalsWarnings(i.Title, i.Body))
			return
		}
		// ALSは構造化されたフィールドで届く
		s := segment.Sections{}
		for _, g := range i.Goals {
			s[segment.InteractionMetas] = append(s[segment.InteractionMetas], g.Text())
		}
		for _, m := range i.Metas {
			s[segment.HiddenMetas] = append(s[segment.HiddenMetas], m.Text())
		}
		if len(i.Warnings) > 0 {
			s[segment.Warnings] = i.Warnings
		}
		if len(i.Errors) > 0 {
			s[segment.Errors] = i.Errors
		}
		title, _ := segment.SerializeAllGoalsWarnings(s)
		renderSections(b, title, s)
	case agda.InfoError:
		renderSections(b, "*Error*", segment.ParseError(i.Body))
	case agda.InfoCurrentGoal:
		renderSections(b, "*Goal type etc.*", segment.ParseGoalType(i.Item.Text()))
	case agda.InfoInferredType:
		fmt.Fprintf(b, "*Inferred Type*\n%s\n", i.Item.Text())
	case agda.InfoNormalForm:
		fmt.Fprintf(b, "*Normal Form*\n%s\n", i.Body)
	case agda.InfoAuto:
		fmt.Fprintf(b, "*Auto*\n%s\n", i.Body)
	case agda.InfoTime:
		fmt.Fprintf(b, "*Time*\n%s\n", i.Body)
	case agda.InfoCompilationOk:
		b.WriteString("*Compilation result*\n")
		for _, w := range i.Warnings {
			fmt.Fprintf(b, "warning: %s\n", w)
		}
		for _, e := range i.Errors {
			fmt.Fprintf(b, "error: %s\n", e)
		}
	case agda.InfoGeneric:
		b.WriteString(i.Title + "\n")
		for _, item := range i.Items {
			if text := item.Text(); text != "" {
				b.WriteString(text + "\n")
			}
		}
	default:
		fmt.Fprintf(b, "%T\n", info)
	}
}

// renderSections はセクションを表示順に出す
func renderSections(b *strings.Builder, title string, s segment.Sections) {
	b.WriteString(title + "\n")
	for _, key := range segment.Order {
		entries, ok := s[key]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "[%s]\n", key)
		for _, e := range entries {
			b.WriteString(indent(e) + "\n")
		}
	}
}

func indent(entry string) string {
	return "  " + strings.ReplaceAll(entry, "\n", "\n  ")
}
