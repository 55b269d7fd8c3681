package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/shelve/internal/organizer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

type fakeHandler struct {
	mu       sync.Mutex
	calls    []string
	mode     organizer.Mode
	change   tree.Change
	removed  []string
	decision *placement.Decision
	err      error
}

func (f *fakeHandler) record(call string, set func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if set != nil {
		set()
	}
}

func (f *fakeHandler) Mode() organizer.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeHandler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHandler) OnItemCreated(_ context.Context, item tree.Item, mode organizer.Mode) (*placement.Decision, error) {
	f.record("created "+item.ID, func() { f.mode = mode })
	return f.decision, f.err
}

func (f *fakeHandler) OnItemChanged(_ context.Context, id string, change tree.Change) error {
	f.record("changed "+id, func() { f.change = change })
	return f.err
}

func (f *fakeHandler) OnItemMoved(_ context.Context, id string) error {
	f.record("moved "+id, nil)
	return f.err
}

func (f *fakeHandler) OnItemRemoved(_ context.Context, id string, descendantIDs []string) error {
	f.record("removed "+id, func() { f.removed = descendantIDs })
	return f.err
}

func setup(t *testing.T, h *fakeHandler) (*Subscriber, *nats.Conn) {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := NewSubscriber(nc, h, "test.items", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Stop)
	return sub, nc
}

func request(t *testing.T, nc *nats.Conn, subject string, v any) Ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := Request(ctx, nc, subject, v)
	require.NoError(t, err)
	return ack
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(nil, &fakeHandler{}, "x", nil)
	assert.Error(t, err)

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	_, err = NewSubscriber(nc, &fakeHandler{}, "", nil)
	assert.Error(t, err)

	sub, err := NewSubscriber(nc, &fakeHandler{}, "shelve.items.", nil)
	require.NoError(t, err)
	assert.Equal(t, "shelve.items.moved", sub.Subject(Moved))
}

func TestSubscriber_CreatedPlacesAndPublishes(t *testing.T) {
	h := &fakeHandler{decision: &placement.Decision{LeafID: "b1", Outcome: placement.OutcomeMoved, TargetID: "f2"}}
	sub, nc := setup(t, h)

	placed := make(chan *nats.Msg, 1)
	ps, err := nc.ChanSubscribe(sub.Subject(Placed), placed)
	require.NoError(t, err)
	defer func() { _ = ps.Unsubscribe() }()

	ack := request(t, nc, sub.Subject(Created), CreatedEvent{Item: tree.Item{ID: "b1", Kind: tree.KindLeaf}})
	assert.True(t, ack.OK)
	require.NotNil(t, ack.Decision)
	assert.Equal(t, "f2", ack.Decision.TargetID)
	assert.Equal(t, organizer.ModeInteractive, h.Mode())

	select {
	case msg := <-placed:
		assert.Contains(t, string(msg.Data), `"target_id":"f2"`)
	case <-time.After(5 * time.Second):
		t.Fatal("placement was not published")
	}
}

func TestSubscriber_SeedingMode(t *testing.T) {
	h := &fakeHandler{}
	sub, nc := setup(t, h)

	ack := request(t, nc, sub.Subject(Created), CreatedEvent{Item: tree.Item{ID: "b1"}, Mode: "seeding"})
	assert.True(t, ack.OK)
	assert.Nil(t, ack.Decision)
	assert.Equal(t, organizer.ModeSeeding, h.Mode())
}

func TestSubscriber_OtherEvents(t *testing.T) {
	h := &fakeHandler{}
	sub, nc := setup(t, h)

	url := "https://example.com/new"
	assert.True(t, request(t, nc, sub.Subject(Changed), ChangedEvent{ID: "b1", Change: tree.Change{URL: &url}}).OK)
	assert.True(t, request(t, nc, sub.Subject(Moved), MovedEvent{ID: "f1"}).OK)
	assert.True(t, request(t, nc, sub.Subject(Removed), RemovedEvent{ID: "f1", DescendantIDs: []string{"b2"}}).OK)

	assert.Equal(t, []string{"changed b1", "moved f1", "removed f1"}, h.Calls())
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotNil(t, h.change.URL)
	assert.Equal(t, url, *h.change.URL)
	assert.Equal(t, []string{"b2"}, h.removed)
}

func TestSubscriber_Errors(t *testing.T) {
	t.Run("malformed payload", func(t *testing.T) {
		sub, nc := setup(t, &fakeHandler{})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := nc.RequestWithContext(ctx, sub.Subject(Moved), []byte("{not json"))
		require.NoError(t, err)
		assert.Contains(t, string(resp.Data), `"ok":false`)
	})

	t.Run("missing id", func(t *testing.T) {
		h := &fakeHandler{}
		sub, nc := setup(t, h)
		ack := request(t, nc, sub.Subject(Removed), RemovedEvent{})
		assert.False(t, ack.OK)
		assert.Empty(t, h.Calls())
	})

	t.Run("unknown mode", func(t *testing.T) {
		sub, nc := setup(t, &fakeHandler{})
		ack := request(t, nc, sub.Subject(Created), CreatedEvent{Item: tree.Item{ID: "b1"}, Mode: "bulk"})
		assert.False(t, ack.OK)
		assert.Contains(t, ack.Error, "unknown mode")
	})

	t.Run("handler failure", func(t *testing.T) {
		sub, nc := setup(t, &fakeHandler{err: errors.New("embedding failed")})
		ack := request(t, nc, sub.Subject(Moved), MovedEvent{ID: "f1"})
		assert.False(t, ack.OK)
		assert.Equal(t, "embedding failed", ack.Error)
	})
}

func TestSubscriber_FireAndForget(t *testing.T) {
	h := &fakeHandler{}
	sub, nc := setup(t, h)

	require.NoError(t, Publish(context.Background(), nc, sub.Subject(Moved), MovedEvent{ID: "f9"}))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool {
		return len(h.Calls()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"moved f9"}, h.Calls())
}

func TestSubscriber_StartTwice(t *testing.T) {
	sub, _ := setup(t, &fakeHandler{})
	assert.Error(t, sub.Start(context.Background()))
}
