// Package segment はEmacsプロトコルの *All Goals* や *Error* などの
// 表示テキストを、見出しごとのセクションに分ける
//
// 区切りは行の位置と、"Goal:" / "Have:" の接頭辞、em dash の罫線で判定する。
// 入力に無いセクションはキー自体が存在しない。
package segment

import (
	"regexp"
	"slices"
	"strings"
)

// Key はセクションの種類
type Key string

const (
	Goal             Key = "goal"
	Have             Key = "have"
	Metas            Key = "metas"
	InteractionMetas Key = "interactionMetas"
	HiddenMetas      Key = "hiddenMetas"
	Warnings         Key = "warnings"
	Errors           Key = "errors"
)

// Order は表示に使うセクションの順序
var Order = []Key{Goal, Have, InteractionMetas, HiddenMetas, Metas, Errors, Warnings}

// Sections はセクションごとのエントリ
// エントリは複数行にまたがることがある
type Sections map[Key][]string

// Has はセクションが存在するかを返す
func (s Sections) Has(key Key) bool {
	_, ok := s[key]
	return ok
}

const delimiterWidth = 60

var (
	goalLabel      = regexp.MustCompile(`^Goal:`)
	haveLabel      = regexp.MustCompile(`^Have:`)
	metasDelimiter = regexp.MustCompile(`—{60}`)
	banner         = regexp.MustCompile(`^—{4}`)
	errorBanner    = regexp.MustCompile(`^—{4} Error`)
	warningBanner  = regexp.MustCompile(`^—{4} Warning\(s\)`)
)

// ParseGoalType は *Goal type etc.* の本文を goal, have と文脈のメタ変数に分ける
func ParseGoalType(raw string) Sections {
	s := partition(splitLines(raw), func(line string, _ int) (Key, bool) {
		switch {
		case goalLabel.MatchString(line):
			return Goal, true
		case haveLabel.MatchString(line):
			return Have, true
		case metasDelimiter.MatchString(line):
			return Metas, true
		}
		return "", false
	})
	if metas, ok := s[Metas]; ok {
		s[Metas] = metas[1:]
	}
	return splitMetas(s)
}

// ParseAllGoalsWarnings は *All Goals, Warnings* などの本文を分ける
// どのセクションがあるかはタイトルから判断する
func ParseAllGoalsWarnings(title, body string) Sections {
	hasMetas := strings.Contains(title, "Goals")
	hasWarnings := strings.Contains(title, "Warnings")
	hasErrors := strings.Contains(title, "Errors")

	s := partition(splitLines(body), func(line string, i int) (Key, bool) {
		if hasMetas && i == 0 {
			return Metas, true
		}
		if hasWarnings {
			if hasMetas {
				if strings.Contains(sliceRunes(line, 5, 13), "Warnings") {
					return Warnings, true
				}
			} else if i == 0 {
				return Warnings, true
			}
		}
		if hasErrors {
			if hasMetas || hasWarnings {
				if strings.Contains(sliceRunes(line, 5, 11), "Errors") {
					return Errors, true
				}
			} else if i == 0 {
				return Errors, true
			}
		}
		return "", false
	})

	s = splitMetas(s)
	splitEntries(s, Warnings)
	splitEntries(s, Errors)
	return s
}

// ParseError は *Error* の本文をエラーと警告に分ける
// エラーは1つのエントリにまとめ、警告は位置の行ごとに分ける
func ParseError(raw string) Sections {
	lines := splitLines(raw)
	if len(lines) == 0 || !errorBanner.MatchString(lines[0]) {
		s := partition(lines, func(_ string, i int) (Key, bool) {
			return Errors, i == 0
		})
		if errs, ok := s[Errors]; ok {
			s[Errors] = []string{unlines(errs)}
		}
		return s
	}

	s := partition(lines, func(line string, i int) (Key, bool) {
		switch {
		case i == 0:
			return Errors, true
		case warningBanner.MatchString(line):
			return Warnings, true
		}
		return "", false
	})
	s[Errors] = []string{unlines(s[Errors][1:])}
	if warnings, ok := s[Warnings]; ok {
		s[Warnings] = entries(warnings[1:])
	}
	return s
}

// ParseOutputs は継続行をまとめたエントリの一覧を返す
func ParseOutputs(raw string) []string {
	return aggregate(splitLines(raw))
}

// splitMetas は metas を interactionMetas と hiddenMetas に分ける
// 位置を持つ最初のエントリから後ろが hiddenMetas になる
func splitMetas(s Sections) Sections {
	raw, ok := s[Metas]
	if !ok {
		return s
	}
	delete(s, Metas)

	metas := aggregate(raw)
	hidden := slices.IndexFunc(metas, locationSuffix.MatchString)
	for key, entries := range partition(metas, func(_ string, i int) (Key, bool) {
		switch {
		case hidden >= 0 && i == hidden:
			return HiddenMetas, true
		case i == 0:
			return InteractionMetas, true
		}
		return "", false
	}) {
		s[key] = entries
	}
	return s
}

// splitEntries は罫線を除いて、位置の行ごとにエントリへ分ける
func splitEntries(s Sections, key Key) {
	raw, ok := s[key]
	if !ok {
		return
	}
	if len(raw) > 0 && banner.MatchString(raw[0]) {
		raw = raw[1:]
	}
	s[key] = entries(raw)
}

func entries(lines []string) []string {
	out := []string{}
	for _, c := range mergeWithNext(chunk(lines, rangeLine.MatchString), endsWithAt) {
		out = append(out, unlines(c))
	}
	return out
}

// SerializeGoalType は ParseGoalType が同じ結果を返すテキストに戻す
func SerializeGoalType(s Sections) string {
	var lines []string
	lines = append(lines, s[Goal]...)
	lines = append(lines, s[Have]...)
	lines = append(lines, strings.Repeat("—", delimiterWidth))
	lines = append(lines, s[InteractionMetas]...)
	lines = append(lines, s[HiddenMetas]...)
	return unlines(lines)
}

// SerializeAllGoalsWarnings は ParseAllGoalsWarnings が同じ結果を返すタイトルと本文に戻す
func SerializeAllGoalsWarnings(s Sections) (title, body string) {
	var parts, lines []string
	if s.Has(InteractionMetas) || s.Has(HiddenMetas) {
		parts = append(parts, "Goals")
		lines = append(lines, s[InteractionMetas]...)
		lines = append(lines, s[HiddenMetas]...)
	}
	if s.Has(Warnings) {
		parts = append(parts, "Warnings")
		lines = append(lines, bannerLine("Warnings"))
		lines = append(lines, s[Warnings]...)
	}
	if s.Has(Errors) {
		parts = append(parts, "Errors")
		lines = append(lines, bannerLine("Errors"))
		lines = append(lines, s[Errors]...)
	}

	if len(parts) == 0 {
		return "*All Done*", ""
	}
	return "*All " + strings.Join(parts, ", ") + "*", unlines(lines)
}

// SerializeError は ParseError が同じ結果を返すテキストに戻す
func SerializeError(s Sections) string {
	if !s.Has(Warnings) {
		return unlines(s[Errors])
	}
	lines := []string{bannerLine("Error")}
	lines = append(lines, s[Errors]...)
	lines = append(lines, bannerLine("Warning(s)"))
	lines = append(lines, s[Warnings]...)
	return unlines(lines)
}

// bannerLine は "———— Errors ————…" 形式の見出し行を作る
func bannerLine(label string) string {
	rest := delimiterWidth - 6 - len([]rune(label))
	if rest < 4 {
		rest = 4
	}
	return "———— " + label + " " + strings.Repeat("—", rest)
}
