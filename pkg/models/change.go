package models

import (
	"fmt"
	"strings"

	"github.com/friflo/fliox.go/pkg/constants"
)

// ChangeType is the kind of a committed mutation.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangePatch  ChangeType = "patch"
	ChangeDelete ChangeType = "delete"
)

// ChangeSet is a set of change types a subscriber wants to receive.
type ChangeSet uint8

const (
	changeCreateBit ChangeSet = 1 << iota
	changeUpdateBit
	changePatchBit
	changeDeleteBit

	AllChanges = changeCreateBit | changeUpdateBit | changePatchBit | changeDeleteBit
)

func (c ChangeType) bit() ChangeSet {
	switch c {
	case ChangeCreate:
		return changeCreateBit
	case ChangeUpdate:
		return changeUpdateBit
	case ChangePatch:
		return changePatchBit
	case ChangeDelete:
		return changeDeleteBit
	}
	return 0
}

func (c ChangeType) Valid() bool {
	return c.bit() != 0
}

// ChangeSetOf validates the given types and returns them as a set.
func ChangeSetOf(types ...ChangeType) (ChangeSet, error) {
	var set ChangeSet
	for _, t := range types {
		if !t.Valid() {
			return 0, fmt.Errorf("%w: unknown change type %q", constants.ErrValidation, t)
		}
		set |= t.bit()
	}
	return set, nil
}

func (s ChangeSet) Has(c ChangeType) bool {
	return s&c.bit() != 0
}

func (s ChangeSet) Types() []ChangeType {
	var types []ChangeType
	for _, c := range []ChangeType{ChangeCreate, ChangeUpdate, ChangePatch, ChangeDelete} {
		if s.Has(c) {
			types = append(types, c)
		}
	}
	return types
}

func (s ChangeSet) String() string {
	names := make([]string, 0, 4)
	for _, c := range s.Types() {
		names = append(names, string(c))
	}
	return "[" + strings.Join(names, ",") + "]"
}

// ChangeEvent notifies subscribers about a committed mutation. Doc holds the
// written document for create and update, the partial document for patch
// and is empty for delete.
type ChangeEvent struct {
	Container string     `json:"cont"`
	Change    ChangeType `json:"change"`
	Key       EntityKey  `json:"key"`
	Doc       Document   `json:"doc"`
}
