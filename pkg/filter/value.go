package filter

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// missing is the value of a field path that does not resolve.
type missing struct{}

var missingValues = []any{missing{}}

type segmentKind uint8

const (
	segName segmentKind = iota
	segIndex
	segEach
)

type segment struct {
	kind  segmentKind
	name  string
	index int
}

type path []segment

// parsePath splits "a.b[0].c[*].d" into its segments.
func parsePath(s string) (path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}
	var p path
	i := 0
	expectName := true
	for i < len(s) {
		switch s[i] {
		case '.':
			if expectName || i == len(s)-1 {
				return nil, fmt.Errorf("invalid field path %q", s)
			}
			expectName = true
			i++
		case '[':
			if expectName && i > 0 {
				return nil, fmt.Errorf("invalid field path %q", s)
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed bracket in field path %q", s)
			}
			inner := s[i+1 : i+end]
			if inner == "*" {
				p = append(p, segment{kind: segEach})
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid index %q in field path %q", inner, s)
				}
				p = append(p, segment{kind: segIndex, index: n})
			}
			expectName = false
			i += end + 1
		default:
			if !expectName {
				return nil, fmt.Errorf("invalid field path %q", s)
			}
			end := strings.IndexAny(s[i:], ".[")
			if end < 0 {
				end = len(s) - i
			}
			p = append(p, segment{kind: segName, name: s[i : i+end]})
			expectName = false
			i += end
		}
	}
	if expectName {
		return nil, fmt.Errorf("invalid field path %q", s)
	}
	return p, nil
}

// resolve returns every value reachable through the path. Wildcards fan out
// over array elements; unresolvable branches are dropped.
func (p path) resolve(doc any) []any {
	current := []any{doc}
	for _, seg := range p {
		var next []any
		for _, v := range current {
			switch seg.kind {
			case segName:
				if child, ok := member(v, seg.name); ok {
					next = append(next, child)
				}
			case segIndex:
				if elems, ok := elements(v); ok && seg.index < len(elems) {
					next = append(next, elems[seg.index])
				}
			case segEach:
				if elems, ok := elements(v); ok {
					next = append(next, elems...)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

func member(v any, name string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		child, found := m[name]
		return child, found
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	child := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
	if !child.IsValid() {
		return nil, false
	}
	return child.Interface(), true
}

func elements(v any) ([]any, bool) {
	if a, ok := v.([]any); ok {
		return a, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

type number struct {
	isInt bool
	i     int64
	f     float64
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{isInt: true, i: int64(n)}, true
	case int8:
		return number{isInt: true, i: int64(n)}, true
	case int16:
		return number{isInt: true, i: int64(n)}, true
	case int32:
		return number{isInt: true, i: int64(n)}, true
	case int64:
		return number{isInt: true, i: n}, true
	case uint:
		return fromUint(uint64(n)), true
	case uint8:
		return number{isInt: true, i: int64(n)}, true
	case uint16:
		return number{isInt: true, i: int64(n)}, true
	case uint32:
		return number{isInt: true, i: int64(n)}, true
	case uint64:
		return fromUint(n), true
	case float32:
		return fromFloat(float64(n)), true
	case float64:
		return fromFloat(n), true
	case json.Number:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return number{isInt: true, i: i}, true
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return number{}, false
		}
		return fromFloat(f), true
	}
	return number{}, false
}

func fromUint(u uint64) number {
	if u > math.MaxInt64 {
		return number{f: float64(u)}
	}
	return number{isInt: true, i: int64(u)}
}

func fromFloat(f float64) number {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return number{isInt: true, i: int64(f)}
	}
	return number{f: f}
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func compareNumbers(a, b number) int {
	if a.isInt && b.isInt {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	af, bf := a.float(), b.float()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// compare orders two values of the same domain. ok is false when the values
// are not comparable: either is missing, or they belong to different domains.
func compare(a, b any) (cmp int, ok bool) {
	if _, isMissing := a.(missing); isMissing {
		return 0, false
	}
	if _, isMissing := b.(missing); isMissing {
		return 0, false
	}
	if an, isNum := toNumber(a); isNum {
		bn, isNum := toNumber(b)
		if !isNum {
			return 0, false
		}
		return compareNumbers(an, bn), true
	}
	switch av := a.(type) {
	case string:
		bv, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func equal(a, b any) bool {
	cmp, ok := compare(a, b)
	return ok && cmp == 0
}

func lessOrEqual(a, b any) bool {
	cmp, ok := compare(a, b)
	return ok && cmp <= 0 && orderable(a)
}

// orderable excludes null and booleans from range comparisons.
func orderable(v any) bool {
	switch v.(type) {
	case string:
		return true
	}
	_, ok := toNumber(v)
	return ok
}

var comparators = map[Op]func(a, b any) bool{
	OpEq: equal,
	OpNe: func(a, b any) bool { return !equal(a, b) },
	OpLt: func(a, b any) bool {
		cmp, ok := compare(a, b)
		return ok && cmp < 0 && orderable(a)
	},
	OpLe: lessOrEqual,
	OpGt: func(a, b any) bool {
		cmp, ok := compare(a, b)
		return ok && cmp > 0 && orderable(a)
	},
	OpGe: func(a, b any) bool {
		cmp, ok := compare(a, b)
		return ok && cmp >= 0 && orderable(a)
	},
}
