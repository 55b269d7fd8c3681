package tree

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Memory is a thread-safe in-memory tree.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*Item
	roots []string
}

// NewMemory returns an empty tree.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*Item)}
}

// Add inserts item as the last child of its parent, or as a root when
// ParentID is empty.
func (m *Memory) Add(item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(item)
}

func (m *Memory) addLocked(item Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if _, ok := m.items[item.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	if item.Kind != KindContainer && item.Kind != KindLeaf {
		return fmt.Errorf("item %s has invalid kind %v", item.ID, item.Kind)
	}

	stored := item
	stored.Children = nil
	if item.ParentID == "" {
		m.roots = append(m.roots, item.ID)
	} else {
		parent, ok := m.items[item.ParentID]
		if !ok {
			return fmt.Errorf("parent %s: %w", item.ParentID, ErrItemNotFound)
		}
		if !parent.IsContainer() {
			return fmt.Errorf("parent %s: %w", item.ParentID, ErrNotContainer)
		}
		parent.Children = append(parent.Children, item.ID)
	}
	m.items[item.ID] = &stored
	return nil
}

// Create adds item, assigning an id when it has none.
func (m *Memory) Create(_ context.Context, item Item) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addLocked(item); err != nil {
		return Item{}, err
	}
	return m.items[item.ID].clone(), nil
}

// ListAll returns every item in depth-first pre-order.
func (m *Memory) ListAll(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Item, 0, len(m.items))
	stack := make([]string, 0, len(m.roots))
	for i := len(m.roots) - 1; i >= 0; i-- {
		stack = append(stack, m.roots[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		item := m.items[id]
		out = append(out, item.clone())
		for i := len(item.Children) - 1; i >= 0; i-- {
			stack = append(stack, item.Children[i])
		}
	}
	return out, nil
}

// Get returns a copy of the item.
func (m *Memory) Get(ctx context.Context, id string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	return item.clone(), nil
}

// Move reparents id under newParentID.
func (m *Memory) Move(ctx context.Context, id, newParentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	target, ok := m.items[newParentID]
	if !ok {
		return fmt.Errorf("target %s: %w", newParentID, ErrItemNotFound)
	}
	if !target.IsContainer() {
		return fmt.Errorf("target %s: %w", newParentID, ErrNotContainer)
	}
	if item.ParentID == newParentID {
		return nil
	}
	for cur := target; cur != nil; cur = m.items[cur.ParentID] {
		if cur.ID == id {
			return fmt.Errorf("%w: %s into its own subtree", ErrInvalidMove, id)
		}
		if cur.ParentID == "" {
			break
		}
	}

	m.detachLocked(item)
	item.ParentID = newParentID
	target.Children = append(target.Children, id)
	return nil
}

// Update applies change to the item and returns the result.
func (m *Memory) Update(ctx context.Context, id string, change Change) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if change.Title != nil {
		item.Title = *change.Title
	}
	if change.URL != nil {
		if item.IsContainer() {
			return Item{}, fmt.Errorf("cannot set url on %s: %w", id, ErrNotContainer)
		}
		item.URL = *change.URL
	}
	return item.clone(), nil
}

// Remove deletes id and its subtree, returning the removed descendant ids.
func (m *Memory) Remove(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	m.detachLocked(item)

	var removed []string
	queue := append([]string(nil), item.Children...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if child, ok := m.items[next]; ok {
			removed = append(removed, next)
			queue = append(queue, child.Children...)
			delete(m.items, next)
		}
	}
	delete(m.items, id)
	return removed, nil
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// replace swaps the whole content, used when a backing file is reloaded.
func (m *Memory) replace(other *Memory) {
	other.mu.RLock()
	items, roots := other.items, other.roots
	other.mu.RUnlock()

	m.mu.Lock()
	m.items, m.roots = items, roots
	m.mu.Unlock()
}

func (m *Memory) detachLocked(item *Item) {
	if item.ParentID == "" {
		m.roots = slices.DeleteFunc(m.roots, func(s string) bool { return s == item.ID })
		return
	}
	if parent, ok := m.items[item.ParentID]; ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(s string) bool { return s == item.ID })
	}
}

func (i *Item) clone() Item {
	c := *i
	c.Children = slices.Clone(i.Children)
	return c
}
