package models

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Document is a JSON-like object: values are nil, bool, numbers, string,
// []any and map[string]any.
type Document = map[string]any

// CloneDocument returns a deep copy so containers never share state with callers.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	clone := make(Document, len(doc))
	for k, v := range doc {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return CloneDocument(value)
	case []any:
		arr := make([]any, len(value))
		for i, item := range value {
			arr[i] = cloneValue(item)
		}
		return arr
	}
	return v
}

// MergeDocument applies a shallow patch: every top-level member of patch
// replaces the member of base, all other members of base are kept.
// Neither argument is modified.
func MergeDocument(base, patch Document) Document {
	merged := CloneDocument(base)
	if merged == nil {
		merged = make(Document, len(patch))
	}
	for k, v := range patch {
		merged[k] = cloneValue(v)
	}
	return merged
}

// NormalizeNumbers returns a deep copy of doc with every json.Number
// replaced by int64, uint64 or float64, the types other codecs encode as
// numbers. Unsigned integers fitting into int64 become int64, so integers
// decoded by JSON and CBOR compare equal.
func NormalizeNumbers(doc Document) Document {
	if doc == nil {
		return nil
	}
	normalized := make(Document, len(doc))
	for k, v := range doc {
		normalized[k] = NormalizeValue(v)
	}
	return normalized
}

// NormalizeValue is NormalizeNumbers for a single value.
func NormalizeValue(v any) any {
	switch value := v.(type) {
	case json.Number:
		return numberValue(value)
	case uint64:
		if value <= math.MaxInt64 {
			return int64(value)
		}
		return value
	case map[string]any:
		return NormalizeNumbers(value)
	case []any:
		arr := make([]any, len(value))
		for i, item := range value {
			arr[i] = NormalizeValue(item)
		}
		return arr
	}
	return v
}

func numberValue(n json.Number) any {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
