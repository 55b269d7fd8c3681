// Package placement picks the container a leaf belongs in.
//
// Every stored vector of every other item is a destination. Container vectors
// point at the container itself; leaf vectors point at the leaf's parent, so
// a new leaf similar to an existing one lands next to it. Destinations are
// ranked by cosine similarity and the leaf is moved to the best one.
package placement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/tree"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

var tracer = otel.Tracer("shelve.placement")

// DefaultLogTopN is how many ranked candidates are logged per decision.
const DefaultLogTopN = 30

// ErrInvalidConfig indicates a required collaborator is missing.
var ErrInvalidConfig = errors.New("invalid placement configuration")

// Outcome describes what PlaceLeaf did.
type Outcome string

const (
	OutcomeMoved        Outcome = "moved"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeNoQuery      Outcome = "no_query"
	OutcomeNoCandidates Outcome = "no_candidates"
	OutcomeLeafMissing  Outcome = "leaf_missing"
	OutcomeDryRun       Outcome = "dry_run"
)

// Destination is one stored vector and where a leaf would go if it matched.
type Destination struct {
	ItemID   string        `json:"item_id"`
	Title    string        `json:"title"`
	TargetID string        `json:"target_id"`
	Kind     store.Kind    `json:"kind"`
	Vector   vector.Vector `json:"-"`
}

// Candidate is a destination with its similarity to the query.
type Candidate struct {
	Destination
	Score float64 `json:"score"`
}

// Decision records the outcome of one placement.
type Decision struct {
	LeafID   string      `json:"leaf_id"`
	Outcome  Outcome     `json:"outcome"`
	TargetID string      `json:"target_id,omitempty"`
	Best     *Candidate  `json:"best,omitempty"`
	Ranked   []Candidate `json:"ranked,omitempty"`
}

// Config wires an Engine.
type Config struct {
	Tree   tree.Provider
	Store  *store.Store
	Logger *zap.Logger
	// LogTopN bounds the ranking logged at debug level and kept on the
	// Decision. Zero selects DefaultLogTopN.
	LogTopN int
	Meter   metric.Meter
}

// Engine ranks destinations and moves leaves.
type Engine struct {
	tree    tree.Provider
	store   *store.Store
	logger  *zap.Logger
	topN    int
	metrics *metrics
}

// New returns an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Tree == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: tree and store are required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topN := cfg.LogTopN
	if topN <= 0 {
		topN = DefaultLogTopN
	}
	return &Engine{
		tree:    cfg.Tree,
		store:   cfg.Store,
		logger:  logger,
		topN:    topN,
		metrics: newMetrics(cfg.Meter, logger),
	}, nil
}

// Destinations loads every stored vector in tree order, skipping excludeID.
// Records are fetched in one bulk read. Within an item vectors follow
// store.Kinds order. Null vectors are included; Rank drops them.
func (e *Engine) Destinations(ctx context.Context, excludeID string) ([]Destination, error) {
	ctx, span := tracer.Start(ctx, "Engine.Destinations")
	defer span.End()

	items, err := e.tree.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tree: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ID != excludeID {
			ids = append(ids, item.ID)
		}
	}
	records, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []Destination
	for _, item := range items {
		rec, ok := records[item.ID]
		if !ok || item.ID == excludeID {
			continue
		}
		target := item.ID
		if item.IsLeaf() {
			target = item.ParentID
		}
		if target == "" {
			continue
		}
		for _, kind := range store.Kinds {
			v, ok := rec[kind]
			if !ok {
				continue
			}
			out = append(out, Destination{
				ItemID:   item.ID,
				Title:    item.Title,
				TargetID: target,
				Kind:     kind,
				Vector:   v,
			})
		}
	}
	span.SetAttributes(attribute.Int("destinations", len(out)))
	return out, nil
}

// Rank scores every destination against query and returns them best first.
// Destinations with a null vector or an undefined similarity are dropped.
// Equal scores keep their input order.
func Rank(query vector.Vector, dests []Destination) []Candidate {
	out := make([]Candidate, 0, len(dests))
	for _, d := range dests {
		if d.Vector.IsNull() {
			continue
		}
		score := vector.Cosine(query, d.Vector)
		if math.IsNaN(score) {
			continue
		}
		out = append(out, Candidate{Destination: d, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Rank loads destinations excluding leafID and ranks them against query.
func (e *Engine) Rank(ctx context.Context, query vector.Vector, leafID string) ([]Candidate, error) {
	dests, err := e.Destinations(ctx, leafID)
	if err != nil {
		return nil, err
	}
	return Rank(query, dests), nil
}

// PlaceLeaf moves leafID to the target of the best-ranked destination. A
// null query, an empty candidate set or a leaf that has vanished are logged
// no-ops, not errors. A query with non-finite components is rejected.
func (e *Engine) PlaceLeaf(ctx context.Context, query vector.Vector, leafID string) (*Decision, error) {
	return e.place(ctx, query, leafID, false)
}

// Preview ranks like PlaceLeaf but never moves anything.
func (e *Engine) Preview(ctx context.Context, query vector.Vector, leafID string) (*Decision, error) {
	return e.place(ctx, query, leafID, true)
}

func (e *Engine) place(ctx context.Context, query vector.Vector, leafID string, dryRun bool) (dec *Decision, err error) {
	ctx, span := tracer.Start(ctx, "Engine.PlaceLeaf")
	defer span.End()
	span.SetAttributes(attribute.String("leaf.id", leafID), attribute.Bool("dry_run", dryRun))

	dec = &Decision{LeafID: leafID}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.record(ctx, "error", nil)
			return
		}
		span.SetAttributes(attribute.String("outcome", string(dec.Outcome)))
		e.metrics.record(ctx, dec.Outcome, dec.Best)
	}()

	log := e.logger.With(zap.String("leaf.id", leafID))

	if query.IsNull() {
		log.Warn("leaf content could not be embedded, skipping placement")
		dec.Outcome = OutcomeNoQuery
		return dec, nil
	}
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("query vector: %w", err)
	}

	ranked, err := e.Rank(ctx, query, leafID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		log.Info("no destinations with embeddings, skipping placement")
		dec.Outcome = OutcomeNoCandidates
		return dec, nil
	}

	top := ranked[:min(e.topN, len(ranked))]
	if log.Core().Enabled(zap.DebugLevel) {
		for i, c := range top {
			log.Debug("placement candidate",
				zap.Int("rank", i+1),
				zap.String("item.id", c.ItemID),
				zap.String("kind", string(c.Kind)),
				zap.Float64("score", c.Score),
				zap.String("title", c.Title),
			)
		}
	}
	best := ranked[0]
	dec.Best = &best
	dec.Ranked = top
	dec.TargetID = best.TargetID

	if dryRun {
		dec.Outcome = OutcomeDryRun
		return dec, nil
	}

	leaf, err := e.tree.Get(ctx, leafID)
	if errors.Is(err, tree.ErrItemNotFound) {
		log.Warn("leaf disappeared before placement")
		dec.Outcome = OutcomeLeafMissing
		return dec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading leaf: %w", err)
	}

	if err := e.tree.Move(ctx, leafID, best.TargetID); err != nil {
		return nil, fmt.Errorf("moving %s to %s: %w", leafID, best.TargetID, err)
	}
	dec.Outcome = OutcomeMoved
	if leaf.ParentID == best.TargetID {
		dec.Outcome = OutcomeUnchanged
	}
	log.Info("placed leaf",
		zap.String("target.id", best.TargetID),
		zap.String("outcome", string(dec.Outcome)),
		zap.Float64("score", best.Score),
	)
	return dec, nil
}
