package placement

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shelve/internal/logging"
	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/telemetry"
	"github.com/fyrsmithlabs/shelve/internal/tree"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

type fixture struct {
	tree   *tree.Memory
	store  *store.Store
	engine *Engine
	logs   *logging.TestLogger
	tel    *telemetry.TestTelemetry
}

// newFixture builds:
//
//	inbox (new)
//	F1
//	└── X (leaf)
//	F2
//	└── Y (leaf)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tree:  tree.NewMemory(),
		store: store.New(store.NewMemoryBackend(), nil),
		logs:  logging.NewTestLogger(),
		tel:   telemetry.NewTestTelemetry(),
	}
	for _, it := range []tree.Item{
		{ID: "inbox", Kind: tree.KindContainer, Title: "Inbox"},
		{ID: "new", Kind: tree.KindLeaf, Title: "New", URL: "https://new.example.com", ParentID: "inbox"},
		{ID: "F1", Kind: tree.KindContainer, Title: "Folder one"},
		{ID: "X", Kind: tree.KindLeaf, Title: "X", URL: "https://x.example.com", ParentID: "F1"},
		{ID: "F2", Kind: tree.KindContainer, Title: "Folder two"},
		{ID: "Y", Kind: tree.KindLeaf, Title: "Y", URL: "https://y.example.com", ParentID: "F2"},
	} {
		require.NoError(t, f.tree.Add(it))
	}
	var err error
	f.engine, err = New(Config{
		Tree:   f.tree,
		Store:  f.store,
		Logger: f.logs.Underlying(),
		Meter:  f.tel.Meter("placement-test"),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) save(t *testing.T, records map[string]store.Record) {
	t.Helper()
	require.NoError(t, f.store.SaveAll(context.Background(), records))
}

func (f *fixture) parent(t *testing.T, id string) string {
	t.Helper()
	it, err := f.tree.Get(context.Background(), id)
	require.NoError(t, err)
	return it.ParentID
}

func TestPlaceLeaf_MovesToBestMatch(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{
		"X": {store.KindLeafContent: {1, 0}},
		"Y": {store.KindLeafContent: {0, 1}},
		// the leaf's own record would win if it were not excluded
		"new": {store.KindLeafContent: {0.9, 0.1}},
	})

	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{0.9, 0.1}, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMoved, dec.Outcome)
	assert.Equal(t, "F1", dec.TargetID)
	require.Len(t, dec.Ranked, 2)
	assert.Equal(t, "X", dec.Ranked[0].ItemID)
	assert.Equal(t, "Y", dec.Ranked[1].ItemID)
	assert.Equal(t, "F1", f.parent(t, "new"))

	f.logs.AssertLogged(t, zapcore.InfoLevel, "placed leaf")
	assert.Equal(t, int64(1), f.tel.CounterTotal(t, "shelve.placement.decisions_total"))
}

func TestPlaceLeaf_ContainerDestination(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{
		"F2": {store.KindContainerTitle: {0, 1}, store.KindContainerPath: {0.1, 1}},
		"X":  {store.KindLeafContent: {1, 0}},
	})

	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{0, 1}, "new")
	require.NoError(t, err)
	assert.Equal(t, "F2", dec.TargetID)
	assert.Equal(t, store.KindContainerTitle, dec.Best.Kind)
	assert.Equal(t, "F2", f.parent(t, "new"))
}

func TestPlaceLeaf_NoValidCandidates(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{
		"X":  {store.KindLeafContent: nil},
		"F1": {store.KindContainerTitle: nil, store.KindContainerPath: nil},
		"Y":  {store.KindLeafContent: {0, 0}}, // zero magnitude, similarity undefined
	})

	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{1, 0}, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidates, dec.Outcome)
	assert.Equal(t, "inbox", f.parent(t, "new"))
	f.logs.AssertLogged(t, zapcore.InfoLevel, "no destinations")
}

func TestPlaceLeaf_EmptyStore(t *testing.T) {
	f := newFixture(t)
	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{1, 0}, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidates, dec.Outcome)
}

func TestPlaceLeaf_NullQuery(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{"X": {store.KindLeafContent: {1, 0}}})

	dec, err := f.engine.PlaceLeaf(context.Background(), nil, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoQuery, dec.Outcome)
	assert.Equal(t, "inbox", f.parent(t, "new"))
}

func TestPlaceLeaf_RejectsMalformedQuery(t *testing.T) {
	f := newFixture(t)
	nan := float32(math.NaN())
	_, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{nan, 1}, "new")
	assert.ErrorIs(t, err, vector.ErrPrecondition)
}

func TestPlaceLeaf_AlreadyInBestContainer(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{"X": {store.KindLeafContent: {1, 0}}})
	require.NoError(t, f.tree.Move(context.Background(), "new", "F1"))

	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{1, 0}, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, dec.Outcome)
	assert.Equal(t, "F1", f.parent(t, "new"))
}

func TestPlaceLeaf_LeafVanished(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{"X": {store.KindLeafContent: {1, 0}}})

	dec, err := f.engine.PlaceLeaf(context.Background(), vector.Vector{1, 0}, "ghost")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLeafMissing, dec.Outcome)
}

func TestPreview_DoesNotMove(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{"Y": {store.KindLeafContent: {0, 1}}})

	dec, err := f.engine.Preview(context.Background(), vector.Vector{0, 1}, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDryRun, dec.Outcome)
	assert.Equal(t, "F2", dec.TargetID)
	assert.Equal(t, "inbox", f.parent(t, "new"))
}

func TestDestinations_TreeAndKindOrder(t *testing.T) {
	f := newFixture(t)
	f.save(t, map[string]store.Record{
		"Y":  {store.KindLeafContent: {0, 1}},
		"F1": {store.KindContainerPath: {1, 1}, store.KindContainerTitle: {1, 0}},
		"X":  {store.KindLeafContent: nil},
	})

	dests, err := f.engine.Destinations(context.Background(), "new")
	require.NoError(t, err)

	type key struct {
		id, target string
		kind       store.Kind
	}
	var got []key
	for _, d := range dests {
		got = append(got, key{d.ItemID, d.TargetID, d.Kind})
	}
	assert.Equal(t, []key{
		{"F1", "F1", store.KindContainerTitle},
		{"F1", "F1", store.KindContainerPath},
		{"X", "F1", store.KindLeafContent},
		{"Y", "F2", store.KindLeafContent},
	}, got)
}

// readCounter counts single and bulk reads.
type readCounter struct {
	*store.MemoryBackend
	gets, bulk atomic.Int32
}

func (r *readCounter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r.gets.Add(1)
	return r.MemoryBackend.Get(ctx, key)
}

func (r *readCounter) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	r.bulk.Add(1)
	return r.MemoryBackend.GetMany(ctx, keys)
}

func TestDestinations_SingleBulkRead(t *testing.T) {
	f := newFixture(t)
	backend := &readCounter{MemoryBackend: store.NewMemoryBackend()}
	f.store = store.New(backend, nil)
	var err error
	f.engine, err = New(Config{Tree: f.tree, Store: f.store, Logger: f.logs.Underlying()})
	require.NoError(t, err)

	f.save(t, map[string]store.Record{
		"X":  {store.KindLeafContent: {1, 0}},
		"Y":  {store.KindLeafContent: {0, 1}},
		"F1": {store.KindContainerTitle: {1, 1}},
	})
	require.NoError(t, backend.Set(context.Background(), store.Key("F2"), []byte("garbage")))

	dests, err := f.engine.Destinations(context.Background(), "new")
	require.NoError(t, err)
	assert.Len(t, dests, 3, "unreadable F2 record is skipped")
	assert.Equal(t, int32(1), backend.bulk.Load())
	assert.Zero(t, backend.gets.Load())
}

func TestRank(t *testing.T) {
	dests := []Destination{
		{ItemID: "a", Vector: vector.Vector{1, 0}},
		{ItemID: "null"},
		{ItemID: "b", Vector: vector.Vector{2, 0}}, // same direction as a
		{ItemID: "c", Vector: vector.Vector{0, 1}},
		{ItemID: "dim", Vector: vector.Vector{1, 0, 0}},
	}
	ranked := Rank(vector.Vector{1, 0}, dests)

	var ids []string
	for _, c := range ranked {
		ids = append(ids, c.ItemID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids, "ties keep input order")
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.0, ranked[2].Score, 1e-9)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
