package lang

import (
	"strconv"
	"strings"
)

// Print renders expr back to query syntax such that Parse(Print(expr))
// reproduces an equivalent AST. It is the inverse of Parse, used by the
// AST nodes' String methods and by round-trip tests.
func Print(expr Expr) string {
	var sb strings.Builder
	writeExpr(&sb, expr)
	return sb.String()
}

func (e *Fetch) String() string    { return Print(e) }
func (e *Coalesce) String() string { return Print(e) }
func (e *Combine) String() string  { return Print(e) }
func (e *Group) String() string    { return Print(e) }
func (e *Search) String() string   { return Print(e) }
func (e *Quantile) String() string { return Print(e) }

func writeExpr(sb *strings.Builder, expr Expr) {
	switch e := expr.(type) {
	case *Fetch:
		sb.WriteString("fetch(")
		writeName(sb, e.Metric)
		if e.Bounded {
			sb.WriteString(", ")
			sb.WriteString(strconv.FormatUint(e.Lo, 10))
			sb.WriteString(", ")
			sb.WriteString(strconv.FormatUint(e.Hi, 10))
		}
		sb.WriteByte(')')
	case *Coalesce:
		sb.WriteString("coalesce(")
		writeExpr(sb, e.Input)
		sb.WriteByte(')')
	case *Combine:
		sb.WriteString("combine(")
		for i, in := range e.Inputs {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(sb, in)
		}
		sb.WriteByte(')')
	case *Group:
		sb.WriteString("group(")
		sb.WriteString(e.Bucket.String())
		sb.WriteString(", ")
		writeExpr(sb, e.Input)
		sb.WriteByte(')')
	case *Search:
		sb.WriteString("search(")
		writeName(sb, e.Pattern)
		sb.WriteByte(')')
	case *Quantile:
		sb.WriteString("quantile(")
		writeExpr(sb, e.Input)
		for _, phi := range e.Phis {
			sb.WriteString(", ")
			sb.WriteString(strconv.FormatFloat(phi, 'f', -1, 64))
		}
		sb.WriteByte(')')
	}
}

// writeName emits a name as a quoted string literal, escaping backslash
// and double-quote so it round-trips through the lexer's string rule
// regardless of what characters the name or pattern itself contains.
func writeName(sb *strings.Builder, name string) {
	sb.WriteByte('"')
	for _, r := range name {
		switch r {
		case '\\', '"':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
}
