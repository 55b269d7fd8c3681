package indexer

import (
	"context"
	"fmt"
)

// KindStatus counts items of one kind that have a record.
type KindStatus struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// Status compares the tree with the store without changing either.
type Status struct {
	Containers KindStatus `json:"containers"`
	Leaves     KindStatus `json:"leaves"`
	// Orphans counts records whose item is no longer in the tree.
	Orphans int `json:"orphans"`
}

// InSync reports whether a reconcile would change nothing.
func (s Status) InSync() bool {
	return s.Orphans == 0 &&
		s.Containers.Synced == s.Containers.Total &&
		s.Leaves.Synced == s.Leaves.Total
}

// Status reports how much of the tree has records.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	ctx, span := tracer.Start(ctx, "Engine.Status")
	defer span.End()

	items, err := e.tree.ListAll(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("listing tree: %w", err)
	}
	ids, err := e.store.StoredIDs(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("listing stored records: %w", err)
	}
	stored := make(map[string]bool, len(ids))
	for _, id := range ids {
		stored[id] = true
	}

	var st Status
	live := make(map[string]bool, len(items))
	for _, item := range items {
		live[item.ID] = true
		var ks *KindStatus
		switch {
		case item.IsContainer():
			ks = &st.Containers
		case item.IsLeaf():
			ks = &st.Leaves
		default:
			continue
		}
		ks.Total++
		if stored[item.ID] {
			ks.Synced++
		}
	}
	for _, id := range ids {
		if !live[id] {
			st.Orphans++
		}
	}
	return st, nil
}
