// Package organizer reacts to item tree events.
//
// It keeps records fresh between reconciliation passes: new and changed items
// are embedded right away, removed items lose their records, and a newly
// created leaf is moved to its best-matching container. Event handlers and
// reconciliation never run concurrently.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/indexer"
	"github.com/fyrsmithlabs/shelve/internal/logging"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// Mode selects how OnItemCreated treats a new item.
type Mode int

const (
	// ModeInteractive embeds the item and places new leaves.
	ModeInteractive Mode = iota
	// ModeSeeding ignores the item; the next reconcile embeds it.
	ModeSeeding
)

// ParseMode reads a mode name; "" means ModeInteractive.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "interactive":
		return ModeInteractive, nil
	case "seeding":
		return ModeSeeding, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeSeeding:
		return "seeding"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	// ErrInvalidConfig indicates a required collaborator is missing.
	ErrInvalidConfig = errors.New("invalid organizer configuration")

	// ErrNotLeaf indicates a placement was requested for a container.
	ErrNotLeaf = errors.New("item is not a leaf")
)

// ContentSource returns a leaf's text, or "" when none is available.
type ContentSource interface {
	Acquire(ctx context.Context, item tree.Item) string
}

// Config wires an Organizer.
type Config struct {
	Tree      tree.Provider
	Store     *store.Store
	Indexer   *indexer.Engine
	Placement *placement.Engine
	Content   ContentSource
	Logger    *zap.Logger
}

// Organizer serializes event handling with reconciliation.
type Organizer struct {
	tree      tree.Provider
	store     *store.Store
	indexer   *indexer.Engine
	placement *placement.Engine
	content   ContentSource
	logger    *zap.Logger

	mu       sync.Mutex
	children map[string][]string // last known child ids per container
}

// New returns an organizer.
func New(cfg Config) (*Organizer, error) {
	if cfg.Tree == nil || cfg.Store == nil || cfg.Indexer == nil || cfg.Placement == nil || cfg.Content == nil {
		return nil, fmt.Errorf("%w: tree, store, indexer, placement and content are required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Organizer{
		tree:      cfg.Tree,
		store:     cfg.Store,
		indexer:   cfg.Indexer,
		placement: cfg.Placement,
		content:   cfg.Content,
		logger:    logger,
		children:  map[string][]string{},
	}, nil
}

// Reconcile runs one reconciliation pass and refreshes the child index.
func (o *Organizer) Reconcile(ctx context.Context, onProgress indexer.ProgressFunc) (*indexer.Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report, err := o.indexer.Reconcile(ctx, onProgress)
	if err != nil {
		return report, err
	}
	if err := o.refreshIndexLocked(ctx); err != nil {
		o.logger.Warn("refreshing child index", zap.Error(err))
	}
	return report, nil
}

// Status reports how much of the tree has records.
func (o *Organizer) Status(ctx context.Context) (indexer.Status, error) {
	return o.indexer.Status(ctx)
}

// Clear deletes every record.
func (o *Organizer) Clear(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.Clear(ctx)
}

// OnItemCreated embeds a new item. A new leaf is then placed unless mode is
// ModeSeeding, which skips the item entirely. The item is re-read from the
// tree, so only its ID is required.
func (o *Organizer) OnItemCreated(ctx context.Context, created tree.Item, mode Mode) (*placement.Decision, error) {
	id := created.ID
	if mode == ModeSeeding {
		o.logger.Debug("seeding, skipping new item", zap.String("item.id", id))
		return nil, nil
	}
	ctx = logging.WithItemID(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.trackLocked(item)

	if item.IsContainer() {
		if err := o.embedContainersLocked(ctx, []tree.Item{item}); err != nil {
			return nil, o.failed("embedding new container", item, err)
		}
		o.logger.Info("embedded new container", zap.String("item.id", id), zap.String("title", item.Title))
		return nil, nil
	}

	rec, err := o.embedLeafLocked(ctx, item)
	if err != nil {
		return nil, o.failed("embedding new leaf", item, err)
	}
	dec, err := o.placement.PlaceLeaf(ctx, rec[store.KindLeafContent], id)
	if err != nil {
		return nil, o.failed("placing new leaf", item, err)
	}
	if dec.Outcome == placement.OutcomeMoved {
		o.untrackLocked(id)
		if moved, err := o.tree.Get(ctx, id); err == nil {
			o.trackLocked(moved)
		}
	}
	return dec, nil
}

// OnItemChanged re-embeds a container whose title changed, together with
// the containers below it, or a leaf whose URL changed. Other changes are
// ignored.
func (o *Organizer) OnItemChanged(ctx context.Context, id string, change tree.Change) error {
	ctx = logging.WithItemID(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case item.IsContainer() && change.Title != nil:
		if err := o.reembedSubtreeLocked(ctx, item); err != nil {
			return o.failed("re-embedding renamed container", item, err)
		}
		o.logger.Info("re-embedded renamed container", zap.String("item.id", id), zap.String("title", item.Title))
	case item.IsLeaf() && change.URL != nil:
		if _, err := o.embedLeafLocked(ctx, item); err != nil {
			return o.failed("re-embedding leaf", item, err)
		}
		o.logger.Info("re-embedded leaf with new url", zap.String("item.id", id), zap.String("url", item.URL))
	default:
		o.logger.Debug("change does not affect embeddings", zap.String("item.id", id))
	}
	return nil
}

// OnItemMoved re-embeds a moved container and every container below it,
// since their paths changed. Moved leaves keep their record.
func (o *Organizer) OnItemMoved(ctx context.Context, id string) error {
	ctx = logging.WithItemID(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.get(ctx, id)
	if err != nil {
		return err
	}
	o.untrackLocked(id)
	o.trackLocked(item)

	if !item.IsContainer() {
		return nil
	}
	if err := o.reembedSubtreeLocked(ctx, item); err != nil {
		return o.failed("re-embedding moved container", item, err)
	}
	o.logger.Info("re-embedded moved container", zap.String("item.id", id), zap.String("title", item.Title))
	return nil
}

// OnItemRemoved deletes the records of id and its descendants. When
// descendantIDs is nil they are taken from the last known tree shape.
func (o *Organizer) OnItemRemoved(ctx context.Context, id string, descendantIDs []string) error {
	ctx = logging.WithItemID(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()

	if descendantIDs == nil {
		descendantIDs = o.knownDescendantsLocked(id)
	}
	ids := append([]string{id}, descendantIDs...)
	if err := o.store.Delete(ctx, ids...); err != nil {
		o.logger.Error("deleting records of removed item", zap.String("item.id", id), zap.Error(err))
		return err
	}
	o.untrackLocked(id)
	delete(o.children, id)
	for _, d := range descendantIDs {
		delete(o.children, d)
	}
	o.logger.Info("deleted records of removed item", zap.String("item.id", id), zap.Int("count", len(ids)))
	return nil
}

func (o *Organizer) get(ctx context.Context, id string) (tree.Item, error) {
	item, err := o.tree.Get(ctx, id)
	if err != nil {
		if errors.Is(err, tree.ErrItemNotFound) {
			o.logger.Warn("item not found, skipping", zap.String("item.id", id))
		} else {
			o.logger.Error("reading item", zap.String("item.id", id), zap.Error(err))
		}
		return tree.Item{}, err
	}
	return item, nil
}

func (o *Organizer) failed(what string, item tree.Item, err error) error {
	o.logger.Error(what+" failed, skipping",
		zap.String("item.id", item.ID),
		zap.Stringer("kind", item.Kind),
		zap.Error(err),
	)
	return fmt.Errorf("%s %s: %w", what, item.ID, err)
}

func (o *Organizer) embedContainersLocked(ctx context.Context, containers []tree.Item) error {
	if len(containers) == 0 {
		return nil
	}
	texts := make([]indexer.ContainerText, len(containers))
	for i, c := range containers {
		texts[i] = o.indexer.ContainerText(ctx, c)
	}
	recs, err := o.indexer.Embed(ctx, texts, nil)
	if err != nil {
		return err
	}
	return o.store.SaveAll(ctx, recs)
}

func (o *Organizer) embedLeafLocked(ctx context.Context, leaf tree.Item) (store.Record, error) {
	text := o.content.Acquire(ctx, leaf)
	if text == "" {
		o.logger.Warn("no content for leaf, storing empty embedding", zap.String("item.id", leaf.ID), zap.String("url", leaf.URL))
	}
	recs, err := o.indexer.Embed(ctx, nil, []indexer.LeafText{{ItemID: leaf.ID, Text: text}})
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveAll(ctx, recs); err != nil {
		return nil, err
	}
	return recs[leaf.ID], nil
}

// reembedSubtreeLocked embeds root and every container below it in one batch.
func (o *Organizer) reembedSubtreeLocked(ctx context.Context, root tree.Item) error {
	ids, err := tree.Descendants(ctx, o.tree, root.ID)
	if err != nil {
		return err
	}
	containers := []tree.Item{root}
	for _, id := range ids {
		item, err := o.tree.Get(ctx, id)
		if errors.Is(err, tree.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if item.IsContainer() {
			containers = append(containers, item)
		}
	}
	return o.embedContainersLocked(ctx, containers)
}

// Place relocates an existing leaf using its stored content record. With
// dryRun the decision is computed but the leaf stays where it is.
func (o *Organizer) Place(ctx context.Context, leafID string, dryRun bool) (*placement.Decision, error) {
	ctx = logging.WithItemID(ctx, leafID)

	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.get(ctx, leafID)
	if err != nil {
		return nil, err
	}
	if !item.IsLeaf() {
		return nil, fmt.Errorf("%s: %w", leafID, ErrNotLeaf)
	}
	rec, err := o.store.Get(ctx, leafID)
	if err != nil {
		return nil, err
	}
	query := rec[store.KindLeafContent]
	if dryRun {
		return o.placement.Preview(ctx, query, leafID)
	}
	dec, err := o.placement.PlaceLeaf(ctx, query, leafID)
	if err != nil {
		return nil, err
	}
	if dec.Outcome == placement.OutcomeMoved {
		o.untrackLocked(leafID)
		if moved, err := o.tree.Get(ctx, leafID); err == nil {
			o.trackLocked(moved)
		}
	}
	return dec, nil
}
