// Package indexer keeps the embedding store consistent with the item tree.
//
// Reconcile lists the tree once, deletes records whose item is gone, and
// embeds every item that has no record yet: containers by title and path,
// leaves by the text of the resource they point at. All texts of a pass go to
// the model in a single batch and each item's record is written exactly once.
// A pass over an unchanged tree performs no writes and no model call.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/content"
	"github.com/fyrsmithlabs/shelve/internal/logging"
	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/tree"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

var tracer = otel.Tracer("shelve.indexer")

// ErrInvalidConfig indicates a required collaborator is missing.
var ErrInvalidConfig = errors.New("invalid indexer configuration")

// ProgressFunc receives the number of missing items processed so far and the
// total missing in the current pass. Calls are serialized.
type ProgressFunc func(processed, total int)

// BatchEmbedder embeds texts positionally; a nil entry marks a screened text.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error)
}

// ContentCollector acquires leaf text under a concurrency limit.
type ContentCollector interface {
	CollectAll(ctx context.Context, items []tree.Item, onDone func(done, total int)) ([]content.Result, error)
}

// Config wires an Engine.
type Config struct {
	Tree          tree.Provider
	Store         *store.Store
	Embedder      BatchEmbedder
	Collector     ContentCollector
	ExcludedRoots []string
	Logger        *zap.Logger
	// Meter is optional; the global meter provider is used when nil.
	Meter metric.Meter
}

// Engine reconciles the store against the tree.
type Engine struct {
	tree      tree.Provider
	store     *store.Store
	embedder  BatchEmbedder
	collector ContentCollector
	paths     *PathBuilder
	logger    *zap.Logger
	metrics   *Metrics
}

// New validates cfg and returns an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Tree == nil:
		return nil, fmt.Errorf("%w: tree provider is required", ErrInvalidConfig)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	case cfg.Collector == nil:
		return nil, fmt.Errorf("%w: content collector is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tree:      cfg.Tree,
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		collector: cfg.Collector,
		paths:     NewPathBuilder(cfg.Tree, cfg.ExcludedRoots, logger),
		logger:    logger,
		metrics:   NewMetrics(cfg.Meter, logger),
	}, nil
}

// Paths returns the engine's path builder.
func (e *Engine) Paths() *PathBuilder {
	return e.paths
}

// Report summarizes one reconciliation pass.
type Report struct {
	RunID       string             `json:"run_id"`
	LiveItems   int                `json:"live_items"`
	StoredItems int                `json:"stored_items"`
	Orphans     int                `json:"orphans_deleted"`
	Missing     int                `json:"missing"`
	Containers  int                `json:"containers_embedded"`
	Leaves      int                `json:"leaves_embedded"`
	NoContent   int                `json:"leaves_without_content"`
	NullVectors map[store.Kind]int `json:"null_vectors,omitempty"`
	Written     int                `json:"records_written"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Reconcile brings the store in line with the tree. onProgress may be nil.
//
// Per-item content failures degrade to a null LeafContent vector. An embedding
// failure aborts the pass before anything from the batch is written; orphan
// deletions already performed are kept.
func (e *Engine) Reconcile(ctx context.Context, onProgress ProgressFunc) (report *Report, err error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := e.logger.With(zap.String("run.id", runID))

	ctx, span := tracer.Start(ctx, "Engine.Reconcile")
	defer span.End()

	report = &Report{RunID: runID, NullVectors: map[store.Kind]int{}}
	defer func() {
		report.Duration = since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("orphans", report.Orphans),
			attribute.Int("missing", report.Missing),
			attribute.Int("written", report.Written),
		)
		e.metrics.recordRun(ctx, report, err)
	}()

	log.Info("starting reconciliation")

	items, err := e.tree.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("listing tree: %w", err)
	}
	report.LiveItems = len(items)

	storedIDs, err := e.store.StoredIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("listing stored records: %w", err)
	}
	report.StoredItems = len(storedIDs)
	log.Debug("loaded tree and store",
		zap.Int("live", len(items)),
		zap.Int("stored", len(storedIDs)),
	)

	live := make(map[string]bool, len(items))
	for _, item := range items {
		live[item.ID] = true
	}
	var orphans []string
	for _, id := range storedIDs {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := e.store.Delete(ctx, orphans...); err != nil {
			return report, fmt.Errorf("deleting orphans: %w", err)
		}
		report.Orphans = len(orphans)
		log.Info("deleted orphaned records", zap.Int("count", len(orphans)))
	}

	stored := make(map[string]bool, len(storedIDs))
	for _, id := range storedIDs {
		stored[id] = true
	}
	var containers, leaves []tree.Item
	for _, item := range items {
		if stored[item.ID] {
			continue
		}
		switch {
		case item.IsContainer():
			containers = append(containers, item)
		case item.IsLeaf():
			leaves = append(leaves, item)
		}
	}
	total := len(containers) + len(leaves)
	report.Missing = total
	if total == 0 {
		log.Info("store is in sync")
		return report, nil
	}
	log.Info("embedding missing items",
		zap.Int("containers", len(containers)),
		zap.Int("leaves", len(leaves)),
	)

	progress := func(n int) {
		if onProgress != nil {
			onProgress(n, total)
		}
	}

	var containerTexts []ContainerText
	for i, c := range containers {
		containerTexts = append(containerTexts, e.ContainerText(ctx, c))
		progress(i + 1)
	}

	results, err := e.collector.CollectAll(ctx, leaves, func(done, _ int) {
		progress(len(containers) + done)
	})
	if err != nil {
		return report, fmt.Errorf("collecting leaf content: %w", err)
	}
	leafTexts := make([]LeafText, len(leaves))
	for i, leaf := range leaves {
		leafTexts[i] = LeafText{ItemID: leaf.ID, Text: results[i].Text}
		if results[i].Err != nil || results[i].Text == "" {
			report.NoContent++
		}
	}

	records, err := e.Embed(ctx, containerTexts, leafTexts)
	if err != nil {
		return report, err
	}
	for _, rec := range records {
		for kind, v := range rec {
			if v.IsNull() {
				report.NullVectors[kind]++
			}
		}
	}

	if err := e.store.SaveAll(ctx, records); err != nil {
		return report, fmt.Errorf("saving records: %w", err)
	}
	report.Containers = len(containers)
	report.Leaves = len(leaves)
	report.Written = len(records)

	log.Info("reconciliation complete",
		zap.Int("orphans", report.Orphans),
		zap.Int("written", report.Written),
		zap.Int("no_content", report.NoContent),
		zap.Duration("duration", since(start)),
	)
	return report, nil
}

// ContainerText holds the two texts embedded for a container.
type ContainerText struct {
	ItemID string
	Title  string
	Path   string
}

// LeafText holds the text embedded for a leaf.
type LeafText struct {
	ItemID string
	Text   string
}

// ContainerText builds the title and path texts for c.
func (e *Engine) ContainerText(ctx context.Context, c tree.Item) ContainerText {
	return ContainerText{ItemID: c.ID, Title: c.Title, Path: e.paths.Path(ctx, c)}
}

// Embed embeds every text in one batch and regroups the vectors into one
// record per item. It writes nothing.
func (e *Engine) Embed(ctx context.Context, containers []ContainerText, leaves []LeafText) (map[string]store.Record, error) {
	type slot struct {
		id   string
		kind store.Kind
	}
	slots := make([]slot, 0, 2*len(containers)+len(leaves))
	texts := make([]string, 0, cap(slots))
	for _, c := range containers {
		slots = append(slots, slot{c.ItemID, store.KindContainerTitle}, slot{c.ItemID, store.KindContainerPath})
		texts = append(texts, c.Title, c.Path)
	}
	for _, l := range leaves {
		slots = append(slots, slot{l.ItemID, store.KindLeafContent})
		texts = append(texts, l.Text)
	}
	if len(texts) == 0 {
		return map[string]store.Record{}, nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	records := make(map[string]store.Record, len(containers)+len(leaves))
	for i, s := range slots {
		rec, ok := records[s.id]
		if !ok {
			rec = store.Record{}
			records[s.id] = rec
		}
		rec[s.kind] = vectors[i]
	}
	return records, nil
}
