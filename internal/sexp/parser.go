package sexp

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// expr はparticipleが組み立てる構文木のノード
type expr struct {
	Quoted bool  `@Quote?`
	Body   *body `@@`
}

type body struct {
	List   *list   `  @@`
	String *string `| @String`
	Atom   *string `| @Atom`
}

type list struct {
	Items []*expr `"(" @@* ")"`
}

// sexpLexer はEmacs向け出力のトークン定義
// 順序が重要: 文字列を先に判定しないとアトムに食われる
var sexpLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\[\s\S]|[^"\\])*"`},
	{Name: "Quote", Pattern: `'`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "Atom", Pattern: `[^\s()'"]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var sexpParser = participle.MustBuild[expr](
	participle.Lexer(sexpLexer),
	participle.Elide("Whitespace"),
)

// Parse は1つのトップレベルS式をパースする
func Parse(input string) (Value, error) {
	if strings.TrimSpace(input) == "" {
		return Value{}, fmt.Errorf("empty input")
	}

	tree, err := sexpParser.ParseString("", input)
	if err != nil {
		return Value{}, fmt.Errorf("parse s-expression: %w", err)
	}

	return tree.value()
}

func (e *expr) value() (Value, error) {
	var v Value
	switch {
	case e.Body.List != nil:
		items, err := spliceDots(e.Body.List.Items)
		if err != nil {
			return Value{}, err
		}
		v = Value{Kind: KindList, List: items}
	case e.Body.String != nil:
		s, err := unescape(*e.Body.String)
		if err != nil {
			return Value{}, err
		}
		v = Value{Kind: KindString, Text: s}
	case e.Body.Atom != nil:
		v = Value{Kind: KindAtom, Text: *e.Body.Atom}
	}
	v.Quoted = e.Quoted
	return v, nil
}

// spliceDots はドット対を平坦化する
// (a . (b c)) は (a b c)、(a . b) は (a b) として扱う
func spliceDots(items []*expr) ([]Value, error) {
	out := make([]Value, 0, len(items))
	for i := 0; i < len(items); i++ {
		item := items[i]
		if item.Body.Atom != nil && *item.Body.Atom == "." && !item.Quoted {
			if i != len(items)-2 || i == 0 {
				return nil, fmt.Errorf("misplaced dot in list")
			}
			tail, err := items[i+1].value()
			if err != nil {
				return nil, err
			}
			if tail.Kind == KindList && !tail.Quoted {
				out = append(out, tail.List...)
			} else {
				out = append(out, tail)
			}
			return out, nil
		}

		v, err := item.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// unescape はEmacs Lisp形式の文字列リテラルを展開する
func unescape(raw string) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", fmt.Errorf("malformed string literal %q", raw)
	}
	raw = raw[1 : len(raw)-1]
	if !strings.Contains(raw, `\`) {
		return raw, nil
	}

	var b strings.Builder
	b.Grow(len(raw))
	escaped := false
	for _, r := range raw {
		if !escaped {
			if r == '\\' {
				escaped = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		escaped = false
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			// \" \\ およびその他は文字そのもの
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
