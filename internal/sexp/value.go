package sexp

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind はS式の値の種類
type Kind int

const (
	KindAtom Kind = iota
	KindString
	KindList
)

// Value はS式の値
type Value struct {
	Kind   Kind
	Text   string  // KindAtom, KindString
	List   []Value // KindList
	Quoted bool    // 先頭に ' が付いていたか
}

// Atom はアトムを作成する
func Atom(name string) Value { return Value{Kind: KindAtom, Text: name} }

// String は文字列リテラルを作成する
func String(s string) Value { return Value{Kind: KindString, Text: s} }

// Int は整数アトムを作成する
func Int(n int) Value { return Atom(strconv.Itoa(n)) }

// List はリストを作成する
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Quote はクォート付きの値を返す
func Quote(v Value) Value {
	v.Quoted = true
	return v
}

// Nil はEmacs Lispの nil
var Nil = Atom("nil")

// IsAtom は指定した名前のアトムかを返す
func (v Value) IsAtom(name string) bool {
	return v.Kind == KindAtom && v.Text == name
}

// IsNil は nil または空リストかを返す
func (v Value) IsNil() bool {
	return v.IsAtom("nil") || (v.Kind == KindList && len(v.List) == 0)
}

// AsInt は整数アトムとして解釈する
func (v Value) AsInt() (int, error) {
	if v.Kind != KindAtom {
		return 0, fmt.Errorf("expected integer atom, got %s", v)
	}
	n, err := strconv.Atoi(v.Text)
	if err != nil {
		return 0, fmt.Errorf("expected integer atom, got %q", v.Text)
	}
	return n, nil
}

// AsString は文字列リテラルとして解釈する
func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("expected string, got %s", v)
	}
	return v.Text, nil
}

// AsList はリストとして解釈する（nil は空リスト）
func (v Value) AsList() ([]Value, error) {
	if v.IsAtom("nil") {
		return nil, nil
	}
	if v.Kind != KindList {
		return nil, fmt.Errorf("expected list, got %s", v)
	}
	return v.List, nil
}

// String はS式としてレンダリングする
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	if v.Quoted {
		b.WriteByte('\'')
	}
	switch v.Kind {
	case KindAtom:
		b.WriteString(v.Text)
	case KindString:
		b.WriteString(Escape(v.Text))
	case KindList:
		b.WriteByte('(')
		for i, item := range v.List {
			if i > 0 {
				b.WriteByte(' ')
			}
			item.write(b)
		}
		b.WriteByte(')')
	}
}

// Escape は文字列をEmacs Lispの文字列リテラルにする
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
