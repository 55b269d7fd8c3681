package store

import (
	"fmt"

	"github.com/fyrsmithlabs/shelve/internal/tree"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

// Kind names which facet of an item a vector represents.
type Kind string

const (
	KindContainerTitle Kind = "folderTitle"
	KindContainerPath  Kind = "folderPath"
	KindLeafContent    Kind = "bookmarkPage"
)

// Kinds lists every kind in the canonical order used when records are
// flattened into destinations.
var Kinds = []Kind{KindContainerTitle, KindContainerPath, KindLeafContent}

// ItemKind returns the tree kind that may hold k.
func (k Kind) ItemKind() tree.Kind {
	if k == KindLeafContent {
		return tree.KindLeaf
	}
	return tree.KindContainer
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindContainerTitle, KindContainerPath, KindLeafContent:
		return true
	}
	return false
}

// Record maps each embedded kind of one item to its vector. A present kind
// with a nil vector means the source text was too short to embed.
type Record map[Kind]vector.Vector

// Validate checks that the record names only known kinds of a single item
// kind and that every non-null vector is well formed.
func (r Record) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: record has no kinds", vector.ErrPrecondition)
	}
	var owner tree.Kind
	for k, v := range r {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown embedding kind %q", vector.ErrPrecondition, k)
		}
		if owner == 0 {
			owner = k.ItemKind()
		} else if owner != k.ItemKind() {
			return fmt.Errorf("%w: record mixes %s and %s kinds", vector.ErrPrecondition, owner, k.ItemKind())
		}
		if v.IsNull() {
			continue
		}
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// ItemKind returns the tree kind the record belongs to, or 0 when empty.
func (r Record) ItemKind() tree.Kind {
	for k := range r {
		return k.ItemKind()
	}
	return 0
}
