package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/friflo/fliox.go/pkg/constants"
)

// Parse builds an expression tree from filter text such as
//
//	completed == true && price >= 10
//	name in ["a", "b"] || !(age < 18)
//	any(items, .article == "pen")
//	between(price, 1, 5)
//
// any(path, predicate) tests array elements existentially and becomes a
// wildcard path: any(items, .article == "pen") is items[*].article == "pen".
// Its predicate may combine comparisons with || only, since && and ! do not
// distribute over separate wildcard tests. none(path, predicate) is
// !any(path, predicate). Empty text matches all documents.
func Parse(text string) (*Expr, error) {
	if strings.TrimSpace(text) == "" {
		return All(), nil
	}
	tree, err := parser.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrValidation, err)
	}
	e, err := translator{}.predicate(tree.Node)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", constants.ErrValidation, text, err)
	}
	return e, nil
}

// MustParse is like Parse but panics on invalid text.
func MustParse(text string) *Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

type translator struct {
	// scope is the wildcard path "." and "#" refer to inside any().
	scope string
}

var comparisonOps = map[string]Op{
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

func (t translator) predicate(node ast.Node) (*Expr, error) {
	switch n := node.(type) {
	case *ast.BoolNode:
		if n.Value {
			return All(), nil
		}
		return Lit(false), nil
	case *ast.IdentifierNode, *ast.MemberNode, *ast.PointerNode, *ast.ChainNode:
		return t.value(node)
	case *ast.UnaryNode:
		if n.Operator != "!" && n.Operator != "not" {
			return nil, fmt.Errorf("unsupported unary operator %q", n.Operator)
		}
		if t.scope != "" {
			return nil, fmt.Errorf("negation inside any() is not supported")
		}
		arg, err := t.predicate(n.Node)
		if err != nil {
			return nil, err
		}
		return Not(arg), nil
	case *ast.BinaryNode:
		return t.binary(n)
	case *ast.BuiltinNode:
		return t.call(n.Name, n.Arguments)
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return nil, fmt.Errorf("unsupported call")
		}
		return t.call(callee.Value, n.Arguments)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

func (t translator) binary(n *ast.BinaryNode) (*Expr, error) {
	switch n.Operator {
	case "&&", "and", "||", "or":
		op := OpOr
		if n.Operator == "&&" || n.Operator == "and" {
			if t.scope != "" {
				return nil, fmt.Errorf("%q inside any() is not supported", n.Operator)
			}
			op = OpAnd
		}
		left, err := t.predicate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.predicate(n.Right)
		if err != nil {
			return nil, err
		}
		return &Expr{Op: op, Args: append(flatten(op, left), flatten(op, right)...)}, nil
	case "in":
		x, err := t.value(n.Left)
		if err != nil {
			return nil, err
		}
		switch right := n.Right.(type) {
		case *ast.ArrayNode:
			args := []*Expr{x}
			for _, elem := range right.Nodes {
				lit, err := t.literal(elem)
				if err != nil {
					return nil, err
				}
				args = append(args, lit)
			}
			return &Expr{Op: OpIn, Args: args}, nil
		case *ast.BinaryNode:
			if right.Operator != ".." {
				break
			}
			lo, err := t.literal(right.Left)
			if err != nil {
				return nil, err
			}
			hi, err := t.literal(right.Right)
			if err != nil {
				return nil, err
			}
			return &Expr{Op: OpBetween, Args: []*Expr{x, lo, hi}}, nil
		}
		return nil, fmt.Errorf("in expects an array or a range")
	}
	op, ok := comparisonOps[n.Operator]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %q", n.Operator)
	}
	left, err := t.value(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := t.value(n.Right)
	if err != nil {
		return nil, err
	}
	return &Expr{Op: op, Args: []*Expr{left, right}}, nil
}

func (t translator) call(name string, args []ast.Node) (*Expr, error) {
	switch name {
	case "any", "none":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments", name)
		}
		prefix, err := t.path(args[0])
		if err != nil {
			return nil, err
		}
		body := args[1]
		if p, ok := body.(*ast.PredicateNode); ok {
			body = p.Node
		}
		e, err := translator{scope: prefix + "[*]"}.predicate(body)
		if err != nil {
			return nil, err
		}
		if name == "none" {
			return Not(e), nil
		}
		return e, nil
	case "between":
		if len(args) != 3 {
			return nil, fmt.Errorf("between expects 3 arguments")
		}
		x, err := t.value(args[0])
		if err != nil {
			return nil, err
		}
		lo, err := t.literal(args[1])
		if err != nil {
			return nil, err
		}
		hi, err := t.literal(args[2])
		if err != nil {
			return nil, err
		}
		return &Expr{Op: OpBetween, Args: []*Expr{x, lo, hi}}, nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

// value translates a comparison operand: a field path or a literal.
func (t translator) value(node ast.Node) (*Expr, error) {
	switch node.(type) {
	case *ast.IdentifierNode, *ast.MemberNode, *ast.PointerNode, *ast.ChainNode:
		p, err := t.path(node)
		if err != nil {
			return nil, err
		}
		return Field(p), nil
	}
	return t.literal(node)
}

func (t translator) literal(node ast.Node) (*Expr, error) {
	switch n := node.(type) {
	case *ast.NilNode:
		return Lit(nil), nil
	case *ast.BoolNode:
		return Lit(n.Value), nil
	case *ast.StringNode:
		return Lit(n.Value), nil
	case *ast.IntegerNode:
		return Lit(int64(n.Value)), nil
	case *ast.FloatNode:
		return Lit(n.Value), nil
	case *ast.UnaryNode:
		if n.Operator == "-" || n.Operator == "+" {
			switch num := n.Node.(type) {
			case *ast.IntegerNode:
				if n.Operator == "-" {
					return Lit(-int64(num.Value)), nil
				}
				return Lit(int64(num.Value)), nil
			case *ast.FloatNode:
				if n.Operator == "-" {
					return Lit(-num.Value), nil
				}
				return Lit(num.Value), nil
			}
		}
	}
	return nil, fmt.Errorf("expect a field or a literal, got %T", node)
}

func (t translator) path(node ast.Node) (string, error) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return n.Value, nil
	case *ast.ChainNode:
		return t.path(n.Node)
	case *ast.PointerNode:
		if t.scope == "" || n.Name != "" {
			return "", fmt.Errorf("unexpected pointer outside any()")
		}
		return t.scope, nil
	case *ast.MemberNode:
		if n.Method {
			return "", fmt.Errorf("method calls are not supported")
		}
		base, err := t.path(n.Node)
		if err != nil {
			return "", err
		}
		switch prop := n.Property.(type) {
		case *ast.StringNode:
			if strings.ContainsAny(prop.Value, ".[]") || prop.Value == "" {
				return "", fmt.Errorf("unsupported field name %q", prop.Value)
			}
			return base + "." + prop.Value, nil
		case *ast.IntegerNode:
			if prop.Value < 0 {
				return "", fmt.Errorf("negative index %d", prop.Value)
			}
			return base + "[" + strconv.Itoa(prop.Value) + "]", nil
		}
		return "", fmt.Errorf("unsupported member access")
	}
	return "", fmt.Errorf("expect a field path, got %T", node)
}

func flatten(op Op, e *Expr) []*Expr {
	if e.Op == op {
		return e.Args
	}
	return []*Expr{e}
}
