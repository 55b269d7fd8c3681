package indexer

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// PathBuilder derives the text embedded for a container's position in the
// tree.
type PathBuilder struct {
	tree     tree.Provider
	excluded map[string]bool
	logger   *zap.Logger
}

// NewPathBuilder returns a builder that leaves the titles of excluded root
// ids out of every path.
func NewPathBuilder(p tree.Provider, excludedRoots []string, logger *zap.Logger) *PathBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	excluded := make(map[string]bool, len(excludedRoots))
	for _, id := range excludedRoots {
		excluded[id] = true
	}
	return &PathBuilder{tree: p, excluded: excluded, logger: logger}
}

// Path returns the space-joined titles from the oldest ancestor down to the
// container itself. Blank titles and excluded roots are skipped. A failed
// parent lookup ends the walk and the path built so far is used.
func (b *PathBuilder) Path(ctx context.Context, item tree.Item) string {
	var parts []string // youngest ancestor first
	seen := map[string]bool{item.ID: true}

	for parentID := item.ParentID; parentID != ""; {
		if seen[parentID] {
			b.logger.Warn("cycle in parent chain", zap.String("item.id", item.ID), zap.String("parent.id", parentID))
			break
		}
		seen[parentID] = true

		parent, err := b.tree.Get(ctx, parentID)
		if err != nil {
			b.logger.Warn("parent lookup failed, truncating path",
				zap.String("item.id", item.ID),
				zap.String("parent.id", parentID),
				zap.Error(err),
			)
			break
		}
		if !b.excluded[parent.ID] && strings.TrimSpace(parent.Title) != "" {
			parts = append(parts, parent.Title)
		}
		parentID = parent.ParentID
	}

	slices.Reverse(parts)
	if strings.TrimSpace(item.Title) != "" {
		parts = append(parts, item.Title)
	}
	return strings.Join(parts, " ")
}
