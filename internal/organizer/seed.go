package organizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// SeedFolder is one demo container and its leaves.
type SeedFolder struct {
	Title  string
	Leaves []SeedLeaf
}

// SeedLeaf is one demo leaf.
type SeedLeaf struct {
	Title string
	URL   string
}

// DemoData is the set created by Seed.
var DemoData = []SeedFolder{
	{Title: "Vegetables", Leaves: []SeedLeaf{
		{"Carrot - Wikipedia", "https://en.wikipedia.org/wiki/Carrot"},
		{"Broccoli - Wikipedia", "https://en.wikipedia.org/wiki/Broccoli"},
	}},
	{Title: "Geography", Leaves: []SeedLeaf{
		{"Mount Everest - Wikipedia", "https://en.wikipedia.org/wiki/Mount_Everest"},
		{"Amazon River - Wikipedia", "https://en.wikipedia.org/wiki/Amazon_River"},
	}},
	{Title: "Celebrities", Leaves: []SeedLeaf{
		{"Albert Einstein - Wikipedia", "https://en.wikipedia.org/wiki/Albert_Einstein"},
		{"Leonardo da Vinci - Wikipedia", "https://en.wikipedia.org/wiki/Leonardo_da_Vinci"},
	}},
	{Title: "Science", Leaves: []SeedLeaf{
		{"Quantum mechanics - Wikipedia", "https://en.wikipedia.org/wiki/Quantum_mechanics"},
		{"DNA - Wikipedia", "https://en.wikipedia.org/wiki/DNA"},
	}},
}

// Seed creates data under parentID in editor. Every created item goes
// through OnItemCreated in ModeSeeding, so nothing is embedded or moved until
// the next reconcile. It returns the created items in creation order.
func (o *Organizer) Seed(ctx context.Context, editor tree.Editor, parentID string, data []SeedFolder) ([]tree.Item, error) {
	var created []tree.Item
	add := func(item tree.Item) (tree.Item, error) {
		out, err := editor.Create(ctx, item)
		if err != nil {
			return tree.Item{}, fmt.Errorf("creating %q: %w", item.Title, err)
		}
		created = append(created, out)
		if _, err := o.OnItemCreated(ctx, out, ModeSeeding); err != nil {
			return tree.Item{}, err
		}
		return out, nil
	}

	for _, folder := range data {
		c, err := add(tree.Item{Kind: tree.KindContainer, Title: folder.Title, ParentID: parentID})
		if err != nil {
			return created, err
		}
		for _, leaf := range folder.Leaves {
			if _, err := add(tree.Item{Kind: tree.KindLeaf, Title: leaf.Title, URL: leaf.URL, ParentID: c.ID}); err != nil {
				return created, err
			}
		}
	}
	o.logger.Info("seeded demo items", zap.Int("count", len(created)), zap.String("parent.id", parentID))
	return created, nil
}
