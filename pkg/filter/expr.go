// Package filter evaluates boolean filter expressions over documents.
//
// A filter is a serializable tree of [Expr] nodes. It is compiled once with
// [Compile] and the resulting [Program] is matched against any number of
// documents. Evaluation never fails: a field path that does not resolve to a
// value yields the missing value, which compares unequal to everything and is
// falsy.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

type Op string

const (
	OpTrue    Op = "true"
	OpField   Op = "field"
	OpLiteral Op = "literal"

	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"

	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	// OpIn matches when the first argument equals one of the remaining arguments.
	OpIn Op = "in"
	// OpBetween matches lo <= x <= hi for the arguments x, lo, hi.
	OpBetween Op = "between"
)

// Expr is one node of a filter expression tree.
type Expr struct {
	Op    Op      `json:"op"`
	Path  string  `json:"path,omitempty"`
	Value any     `json:"value,omitempty"`
	Args  []*Expr `json:"args,omitempty"`
}

// All matches every document.
func All() *Expr { return &Expr{Op: OpTrue} }

// Field references the value at path, e.g. "address.city" or "items[*].article".
func Field(path string) *Expr { return &Expr{Op: OpField, Path: path} }

// Lit is a literal scalar: nil, bool, string or a number.
func Lit(v any) *Expr { return &Expr{Op: OpLiteral, Value: v} }

func Eq(a, b *Expr) *Expr { return &Expr{Op: OpEq, Args: []*Expr{a, b}} }
func Ne(a, b *Expr) *Expr { return &Expr{Op: OpNe, Args: []*Expr{a, b}} }
func Lt(a, b *Expr) *Expr { return &Expr{Op: OpLt, Args: []*Expr{a, b}} }
func Le(a, b *Expr) *Expr { return &Expr{Op: OpLe, Args: []*Expr{a, b}} }
func Gt(a, b *Expr) *Expr { return &Expr{Op: OpGt, Args: []*Expr{a, b}} }
func Ge(a, b *Expr) *Expr { return &Expr{Op: OpGe, Args: []*Expr{a, b}} }

func And(args ...*Expr) *Expr { return &Expr{Op: OpAnd, Args: args} }
func Or(args ...*Expr) *Expr  { return &Expr{Op: OpOr, Args: args} }
func Not(arg *Expr) *Expr     { return &Expr{Op: OpNot, Args: []*Expr{arg}} }

func In(x *Expr, values ...any) *Expr {
	args := make([]*Expr, 0, len(values)+1)
	args = append(args, x)
	for _, v := range values {
		args = append(args, Lit(v))
	}
	return &Expr{Op: OpIn, Args: args}
}

func Between(x *Expr, lo, hi any) *Expr {
	return &Expr{Op: OpBetween, Args: []*Expr{x, Lit(lo), Lit(hi)}}
}

// FieldEq is shorthand for Eq(Field(path), Lit(v)).
func FieldEq(path string, v any) *Expr {
	return Eq(Field(path), Lit(v))
}

var opSymbols = map[Op]string{
	OpEq: "==",
	OpNe: "!=",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// String renders the expression in the syntax accepted by [Parse].
// A nil expression renders as "true".
func (e *Expr) String() string {
	if e == nil {
		return "true"
	}
	var sb strings.Builder
	e.write(&sb, false)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder, nested bool) {
	switch e.Op {
	case OpTrue:
		sb.WriteString("true")
	case OpField:
		sb.WriteString(e.Path)
	case OpLiteral:
		writeLiteral(sb, e.Value)
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if e.writeAny(sb) {
			return
		}
		e.writeOperand(sb, 0)
		sb.WriteString(" " + opSymbols[e.Op] + " ")
		e.writeOperand(sb, 1)
	case OpAnd, OpOr:
		sep := " && "
		if e.Op == OpOr {
			sep = " || "
		}
		if nested {
			sb.WriteString("(")
		}
		for i, arg := range e.Args {
			if i > 0 {
				sb.WriteString(sep)
			}
			arg.write(sb, true)
		}
		if nested {
			sb.WriteString(")")
		}
	case OpNot:
		sb.WriteString("!(")
		if len(e.Args) > 0 {
			e.Args[0].write(sb, false)
		}
		sb.WriteString(")")
	case OpIn:
		if len(e.Args) == 0 {
			sb.WriteString("false")
			return
		}
		if e.writeAny(sb) {
			return
		}
		e.writeOperand(sb, 0)
		sb.WriteString(" in [")
		for i, arg := range e.Args[1:] {
			if i > 0 {
				sb.WriteString(", ")
			}
			arg.write(sb, true)
		}
		sb.WriteString("]")
	case OpBetween:
		if len(e.Args) != 3 {
			sb.WriteString("false")
			return
		}
		if e.writeAny(sb) {
			return
		}
		sb.WriteString("between(")
		e.writeOperand(sb, 0)
		sb.WriteString(", ")
		e.writeOperand(sb, 1)
		sb.WriteString(", ")
		e.writeOperand(sb, 2)
		sb.WriteString(")")
	default:
		fmt.Fprintf(sb, "<%s>", e.Op)
	}
}

func (e *Expr) writeOperand(sb *strings.Builder, i int) {
	if i >= len(e.Args) || e.Args[i] == nil {
		sb.WriteString("nil")
		return
	}
	e.Args[i].write(sb, true)
}

func writeLiteral(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("nil")
	case string:
		sb.WriteString(strconv.Quote(val))
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		sb.WriteString(s)
	default:
		fmt.Fprint(sb, val)
	}
}

// writeAny renders a test on exactly one wildcard field path like
// items[*].article as any(items, .article == "pen").
func (e *Expr) writeAny(sb *strings.Builder) bool {
	prefix, rel, ok := wildcardOperand(e.Args)
	if !ok {
		return false
	}
	sb.WriteString("any(" + prefix + ", ")
	(&Expr{Op: e.Op, Args: rel}).write(sb, false)
	sb.WriteString(")")
	return true
}

func wildcardOperand(args []*Expr) (string, []*Expr, bool) {
	fieldIdx := -1
	for i, arg := range args {
		if arg != nil && arg.Op == OpField {
			if fieldIdx >= 0 {
				return "", nil, false
			}
			fieldIdx = i
		}
	}
	if fieldIdx < 0 {
		return "", nil, false
	}
	path := args[fieldIdx].Path
	idx := strings.Index(path, "[*]")
	if idx <= 0 {
		return "", nil, false
	}
	rest := path[idx+len("[*]"):]
	switch {
	case rest == "":
		rest = "#"
	case !strings.HasPrefix(rest, "."):
		return "", nil, false
	}
	rel := make([]*Expr, len(args))
	copy(rel, args)
	rel[fieldIdx] = Field(rest)
	return path[:idx], rel, true
}
