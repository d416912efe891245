package fliox

import (
	"github.com/friflo/fliox.go/pkg/models"
)

// Relation is the resolved relation of one source element. Targets is
// parallel to Keys, an entry is nil when its entity does not exist.
type Relation[S any, K comparable, T any] struct {
	Source  S
	Keys    []K
	Targets []*T
}

// Resolved reports whether the source references at least one key and all
// referenced entities exist.
func (r *Relation[S, K, T]) Resolved() bool {
	if len(r.Targets) == 0 {
		return false
	}
	for _, t := range r.Targets {
		if t == nil {
			return false
		}
	}
	return true
}

// RelationTask resolves the entities referenced by a set of source elements
// with a single read.
type RelationTask[S any, K comparable, T any] struct {
	target  *Container[K, T]
	sources []S
	keys    [][]K
	read    *ReadTask[K, T]
}

// Resolve buffers one read of target for the distinct keys selector returns
// for sources. Null keys are skipped. No task is buffered when sources
// reference no key.
func Resolve[S any, K comparable, T any](target *Container[K, T], sources []S, selector func(S) []K) *RelationTask[S, K, T] {
	r := &RelationTask[S, K, T]{
		target:  target,
		sources: sources,
		keys:    make([][]K, len(sources)),
	}
	var all []models.EntityKey
	native := make(map[models.EntityKey]K)
	for i, src := range sources {
		keys := selector(src)
		r.keys[i] = keys
		for _, key := range keys {
			ek := target.codec.Encode(key)
			if _, ok := native[ek]; !ok {
				native[ek] = key
			}
			all = append(all, ek)
		}
	}
	unique := models.UniqueKeys(all)
	if len(unique) == 0 {
		return r
	}
	keys := make([]K, len(unique))
	for i, ek := range unique {
		keys[i] = native[ek]
	}
	r.read = target.Read(keys...)
	return r
}

// Task returns the buffered read, nil when none was needed.
func (r *RelationTask[S, K, T]) Task() *ReadTask[K, T] {
	return r.read
}

func (r *RelationTask[S, K, T]) Err() error {
	if r.read == nil {
		return nil
	}
	return r.read.Err()
}

// Relations returns one relation per source element in source order.
func (r *RelationTask[S, K, T]) Relations() []Relation[S, K, T] {
	relations := make([]Relation[S, K, T], len(r.sources))
	for i, src := range r.sources {
		rel := Relation[S, K, T]{Source: src}
		for _, key := range r.keys[i] {
			ek := r.target.codec.Encode(key)
			if ek.IsNull() {
				continue
			}
			rel.Keys = append(rel.Keys, key)
			var target *T
			if r.read != nil {
				target = r.read.lookup(ek)
			}
			rel.Targets = append(rel.Targets, target)
		}
		relations[i] = rel
	}
	return relations
}
