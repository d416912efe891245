package filter

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/friflo/fliox.go/pkg/constants"
)

// Program is a validated filter ready to be matched against documents.
// A Program is immutable and safe for concurrent use.
type Program struct {
	expr *Expr
	root predicate
}

type predicate func(doc any) bool

// operand yields the values an argument resolves to. A field path can
// resolve to several values through a wildcard; no value at all is reported
// as a single missing value.
type operand func(doc any) []any

// Compile validates e and builds its Program. A nil expression matches all
// documents.
func Compile(e *Expr) (*Program, error) {
	if e == nil {
		e = All()
	}
	root, err := compilePredicate(e)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid filter: %v", constants.ErrValidation, err)
	}
	return &Program{expr: e, root: root}, nil
}

// MustCompile is like Compile but panics on an invalid expression.
func MustCompile(e *Expr) *Program {
	p, err := Compile(e)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether doc satisfies the filter. It never modifies doc.
// A nil Program matches everything.
func (p *Program) Match(doc map[string]any) bool {
	if p == nil {
		return true
	}
	return p.root(doc)
}

// Expr returns the expression the program was compiled from.
func (p *Program) Expr() *Expr {
	if p == nil {
		return All()
	}
	return p.expr
}

func (p *Program) String() string {
	return p.Expr().String()
}

func compilePredicate(e *Expr) (predicate, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch e.Op {
	case OpTrue:
		return func(any) bool { return true }, nil
	case OpField, OpLiteral:
		op, err := compileOperand(e)
		if err != nil {
			return nil, err
		}
		return func(doc any) bool {
			for _, v := range op(doc) {
				if b, ok := v.(bool); ok && b {
					return true
				}
			}
			return false
		}, nil
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if len(e.Args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", e.Op, len(e.Args))
		}
		left, err := compileOperand(e.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := compileOperand(e.Args[1])
		if err != nil {
			return nil, err
		}
		test := comparators[e.Op]
		return func(doc any) bool {
			rv := right(doc)
			for _, l := range left(doc) {
				for _, r := range rv {
					if test(l, r) {
						return true
					}
				}
			}
			return false
		}, nil
	case OpAnd, OpOr:
		args := make([]predicate, len(e.Args))
		for i, arg := range e.Args {
			p, err := compilePredicate(arg)
			if err != nil {
				return nil, err
			}
			args[i] = p
		}
		if e.Op == OpAnd {
			return func(doc any) bool {
				for _, p := range args {
					if !p(doc) {
						return false
					}
				}
				return true
			}, nil
		}
		return func(doc any) bool {
			for _, p := range args {
				if p(doc) {
					return true
				}
			}
			return false
		}, nil
	case OpNot:
		if len(e.Args) != 1 {
			return nil, fmt.Errorf("not expects 1 argument, got %d", len(e.Args))
		}
		p, err := compilePredicate(e.Args[0])
		if err != nil {
			return nil, err
		}
		return func(doc any) bool { return !p(doc) }, nil
	case OpIn:
		if len(e.Args) < 1 {
			return nil, fmt.Errorf("in expects at least 1 argument")
		}
		ops, err := compileOperands(e.Args)
		if err != nil {
			return nil, err
		}
		return func(doc any) bool {
			for _, x := range ops[0](doc) {
				for _, candidate := range ops[1:] {
					for _, v := range candidate(doc) {
						if equal(x, v) {
							return true
						}
					}
				}
			}
			return false
		}, nil
	case OpBetween:
		if len(e.Args) != 3 {
			return nil, fmt.Errorf("between expects 3 arguments, got %d", len(e.Args))
		}
		ops, err := compileOperands(e.Args)
		if err != nil {
			return nil, err
		}
		return func(doc any) bool {
			los, his := ops[1](doc), ops[2](doc)
			for _, x := range ops[0](doc) {
				for _, lo := range los {
					for _, hi := range his {
						if lessOrEqual(lo, x) && lessOrEqual(x, hi) {
							return true
						}
					}
				}
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", e.Op)
}

func compileOperands(args []*Expr) ([]operand, error) {
	ops := make([]operand, len(args))
	for i, arg := range args {
		op, err := compileOperand(arg)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

func compileOperand(e *Expr) (operand, error) {
	if e == nil {
		return nil, fmt.Errorf("nil operand")
	}
	switch e.Op {
	case OpField:
		p, err := parsePath(e.Path)
		if err != nil {
			return nil, err
		}
		return func(doc any) []any {
			values := p.resolve(doc)
			if len(values) == 0 {
				return missingValues
			}
			return values
		}, nil
	case OpLiteral:
		v, err := normalizeLiteral(e.Value)
		if err != nil {
			return nil, err
		}
		values := []any{v}
		return func(any) []any { return values }, nil
	case OpTrue:
		values := []any{true}
		return func(any) []any { return values }, nil
	}
	return nil, fmt.Errorf("operator %q is not a value", e.Op)
}

func normalizeLiteral(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string:
		return val, nil
	case json.Number:
		if _, ok := toNumber(val); !ok {
			return nil, fmt.Errorf("invalid number literal %q", val.String())
		}
		return val, nil
	}
	if _, ok := toNumber(v); ok {
		return v, nil
	}
	return nil, fmt.Errorf("unsupported literal %T", v)
}
