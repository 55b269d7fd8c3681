package organizer

import (
	"context"
	"slices"

	"github.com/fyrsmithlabs/shelve/internal/tree"
)

func (o *Organizer) refreshIndexLocked(ctx context.Context) error {
	items, err := o.tree.ListAll(ctx)
	if err != nil {
		return err
	}
	children := make(map[string][]string, len(items))
	for _, item := range items {
		if item.ParentID != "" {
			children[item.ParentID] = append(children[item.ParentID], item.ID)
		}
	}
	o.children = children
	return nil
}

func (o *Organizer) trackLocked(item tree.Item) {
	if item.ParentID == "" {
		return
	}
	if !slices.Contains(o.children[item.ParentID], item.ID) {
		o.children[item.ParentID] = append(o.children[item.ParentID], item.ID)
	}
}

func (o *Organizer) untrackLocked(id string) {
	for parent, kids := range o.children {
		if i := slices.Index(kids, id); i >= 0 {
			o.children[parent] = slices.Delete(kids, i, i+1)
		}
	}
}

// knownDescendantsLocked walks the child index breadth first.
func (o *Organizer) knownDescendantsLocked(id string) []string {
	out := []string{}
	seen := map[string]bool{id: true}
	queue := append([]string(nil), o.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, o.children[next]...)
	}
	return out
}
