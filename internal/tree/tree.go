// Package tree models the host item tree: containers (folders) holding
// leaves (bookmarks) and other containers.
//
// The Provider interface is all the indexing and placement code depends on.
// Memory is the reference implementation; FileTree persists a Memory to a
// bookmarks backup file.
package tree

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound indicates the requested id is not in the tree.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotContainer indicates an operation needed a container but got a leaf.
	ErrNotContainer = errors.New("item is not a container")

	// ErrInvalidMove indicates a move into the item itself or its own subtree.
	ErrInvalidMove = errors.New("invalid move")

	// ErrDuplicateID indicates an item with the same id already exists.
	ErrDuplicateID = errors.New("duplicate item id")
)

// Kind distinguishes containers from leaves.
type Kind int

const (
	KindContainer Kind = iota + 1
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "folder"
	case KindLeaf:
		return "bookmark"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler. The zero Kind, an item
// known only by id, encodes as "".
func (k Kind) MarshalText() ([]byte, error) {
	if k == 0 {
		return []byte{}, nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*k = 0
	case "folder", "container":
		*k = KindContainer
	case "bookmark", "leaf":
		*k = KindLeaf
	default:
		return fmt.Errorf("unknown item kind %q", text)
	}
	return nil
}

// Item is one node of the tree. IDs are stable across moves.
type Item struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"type,omitempty"`
	Title    string   `json:"title"`
	URL      string   `json:"url,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
	Children []string `json:"children,omitempty"`
}

// IsContainer reports whether the item is a container.
func (i Item) IsContainer() bool {
	return i.Kind == KindContainer
}

// IsLeaf reports whether the item is a leaf.
func (i Item) IsLeaf() bool {
	return i.Kind == KindLeaf
}

// Change lists the fields modified by an update. Nil means unchanged.
type Change struct {
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// Provider is the read/move view of the host tree.
type Provider interface {
	// ListAll returns every item, containers and leaves, in tree order.
	ListAll(ctx context.Context) ([]Item, error)

	// Get returns one item or ErrItemNotFound.
	Get(ctx context.Context, id string) (Item, error)

	// Move reparents id under newParentID. Moving to the current parent is a no-op.
	Move(ctx context.Context, id, newParentID string) error
}

// Editor is implemented by trees that can be mutated directly.
type Editor interface {
	Provider
	Create(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, id string, change Change) (Item, error)
	Remove(ctx context.Context, id string) ([]string, error)
}

// Descendants returns the ids of every item below id, breadth first.
// Children that vanish mid-walk are skipped.
func Descendants(ctx context.Context, p Provider, id string) ([]string, error) {
	root, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []string
	queue := append([]string(nil), root.Children...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := queue[0]
		queue = queue[1:]

		child, err := p.Get(ctx, next)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, child.ID)
		queue = append(queue, child.Children...)
	}
	return out, nil
}
