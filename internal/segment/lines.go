package segment

import (
	"regexp"
	"strings"
)

var (
	// "/path/A.agda:15,1-2" や "/path/A.agda:3,1-4,2" のような位置だけの行
	rangeLine = regexp.MustCompile(`^\S+:\d+,\d+-\d+(?:,\d+)?$`)
	// "Sort _0  [ at /path/A.agda:11,5-20 ]" のように末尾に位置を持つエントリ
	locationSuffix = regexp.MustCompile(`\[ at \S.*:\d+,\d+-\d+(?:,\d+)? \]$`)
	// 折り返しで次のチャンクに続くエントリ
	trailingAt = regexp.MustCompile(`at$`)
)

// splitLines は改行で分割し、空行を捨てる
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func unlines(lines []string) string {
	return strings.Join(lines, "\n")
}

// aggregate は空白で始まる継続行を直前の行にまとめる
func aggregate(lines []string) []string {
	var entries []string
	for _, chunk := range chunk(lines, func(line string) bool {
		return !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t")
	}) {
		entries = append(entries, unlines(chunk))
	}
	return entries
}

// chunk は isStart を満たす要素ごとに区切る
// 最初の開始要素より前の要素は先頭のチャンクになる
func chunk(xs []string, isStart func(string) bool) [][]string {
	var chunks [][]string
	for i, x := range xs {
		if i == 0 || isStart(x) {
			chunks = append(chunks, nil)
		}
		chunks[len(chunks)-1] = append(chunks[len(chunks)-1], x)
	}
	return chunks
}

// mergeWithNext は glue を満たすチャンクを次のチャンクと結合する
func mergeWithNext(chunks [][]string, glue func([]string) bool) [][]string {
	var merged [][]string
	var carry []string
	for _, c := range chunks {
		c = append(carry, c...)
		carry = nil
		if glue(c) {
			carry = c
			continue
		}
		merged = append(merged, c)
	}
	if carry != nil {
		merged = append(merged, carry)
	}
	return merged
}

func endsWithAt(chunk []string) bool {
	return len(chunk) > 0 && trailingAt.MatchString(chunk[len(chunk)-1])
}

// partition は tag が返すキーで行を区切る
// 最初のキーより前の行は捨て、同じキーが複数回現れたら後のものが残る
func partition(xs []string, tag func(line string, i int) (Key, bool)) Sections {
	type mark struct {
		key   Key
		start int
	}
	var marks []mark
	for i, x := range xs {
		if key, ok := tag(x, i); ok {
			marks = append(marks, mark{key, i})
		}
	}

	out := Sections{}
	for n, m := range marks {
		end := len(xs)
		if n+1 < len(marks) {
			end = marks[n+1].start
		}
		out[m.key] = append([]string(nil), xs[m.start:end]...)
	}
	return out
}

// sliceRunes はルーン単位で切り出す。範囲外は切り詰める
func sliceRunes(s string, start, end int) string {
	r := []rune(s)
	if start > len(r) {
		start = len(r)
	}
	if end > len(r) {
		end = len(r)
	}
	return string(r[start:end])
}
