package content

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/shelve/internal/limiter"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// fakeSession loads after delay (never when delay < 0).
type fakeSession struct {
	loaded     chan struct{}
	text       string
	extractErr error
	closed     atomic.Bool
}

func (s *fakeSession) Loaded() <-chan struct{} { return s.loaded }

func (s *fakeSession) Extract(context.Context) (string, error) {
	return s.text, s.extractErr
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakePage struct {
	text       string
	delay      time.Duration
	openErr    error
	extractErr error
	panics     bool
}

type fakeOpener struct {
	pages map[string]fakePage

	mu       sync.Mutex
	sessions []*fakeSession
	running  atomic.Int32
	peak     atomic.Int32
}

func (o *fakeOpener) Open(_ context.Context, item tree.Item) (Session, error) {
	page := o.pages[item.URL]
	if page.panics {
		panic("renderer crashed")
	}
	if page.openErr != nil {
		return nil, page.openErr
	}
	n := o.running.Add(1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s := &fakeSession{loaded: make(chan struct{}), text: page.text, extractErr: page.extractErr}
	if page.delay >= 0 {
		go func() {
			time.Sleep(page.delay)
			close(s.loaded)
		}()
	}
	o.mu.Lock()
	o.sessions = append(o.sessions, s)
	o.mu.Unlock()
	return &trackedSession{fakeSession: s, opener: o}, nil
}

type trackedSession struct {
	*fakeSession
	opener *fakeOpener
}

func (t *trackedSession) Close() error {
	t.opener.running.Add(-1)
	return t.fakeSession.Close()
}

func leaf(id, url string) tree.Item {
	return tree.Item{ID: id, Kind: tree.KindLeaf, URL: url}
}

func TestCollect_Loaded(t *testing.T) {
	o := &fakeOpener{pages: map[string]fakePage{"https://a": {text: "alpha page"}}}
	c := NewCollector(o, limiter.New(1), time.Second, zaptest.NewLogger(t))

	text, err := c.Collect(context.Background(), leaf("a", "https://a"))
	require.NoError(t, err)
	assert.Equal(t, "alpha page", text)
	assert.True(t, o.sessions[0].closed.Load())
}

func TestCollect_SoftTimeoutExtractsPartial(t *testing.T) {
	o := &fakeOpener{pages: map[string]fakePage{"https://slow": {text: "partial", delay: -1}}}
	c := NewCollector(o, limiter.New(1), 20*time.Millisecond, nil)

	start := time.Now()
	text, err := c.Collect(context.Background(), leaf("s", "https://slow"))
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, o.sessions[0].closed.Load(), "session closed on the timeout path")
}

func TestCollect_Failures(t *testing.T) {
	o := &fakeOpener{pages: map[string]fakePage{
		"https://open":    {openErr: errors.New("dns")},
		"https://extract": {extractErr: errors.New("no body")},
	}}
	c := NewCollector(o, limiter.New(1), time.Second, nil)

	_, err := c.Collect(context.Background(), leaf("o", "https://open"))
	assert.ErrorIs(t, err, ErrContentUnavailable)

	_, err = c.Collect(context.Background(), leaf("e", "https://extract"))
	assert.ErrorIs(t, err, ErrContentUnavailable)
	assert.True(t, o.sessions[0].closed.Load())

	_, err = c.Collect(context.Background(), leaf("n", ""))
	assert.ErrorIs(t, err, ErrContentUnavailable)
}

func TestAcquire_DegradesToEmpty(t *testing.T) {
	o := &fakeOpener{pages: map[string]fakePage{
		"https://boom": {panics: true},
		"https://ok":   {text: "fine"},
	}}
	c := NewCollector(o, limiter.New(1), time.Second, nil)

	assert.Equal(t, "", c.Acquire(context.Background(), leaf("b", "https://boom")))
	assert.Equal(t, "fine", c.Acquire(context.Background(), leaf("k", "https://ok")), "limiter slot released after panic")
}

func TestCollectAll_BoundedAndIsolated(t *testing.T) {
	pages := map[string]fakePage{}
	var items []tree.Item
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		url := "https://" + id
		pages[url] = fakePage{text: "page " + id, delay: 10 * time.Millisecond}
		items = append(items, leaf(id, url))
	}
	pages["https://c"] = fakePage{openErr: errors.New("refused")}
	pages["https://f"] = fakePage{panics: true}
	o := &fakeOpener{pages: pages}
	c := NewCollector(o, limiter.New(3), time.Second, nil)

	var calls []int
	results, err := c.CollectAll(context.Background(), items, func(done, total int) {
		assert.Equal(t, len(items), total)
		calls = append(calls, done)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, calls)
	assert.LessOrEqual(t, o.peak.Load(), int32(3))
	for i, r := range results {
		assert.Equal(t, items[i].ID, r.ItemID)
		switch r.ItemID {
		case "c", "f":
			assert.Error(t, r.Err)
			assert.Empty(t, r.Text)
		default:
			assert.NoError(t, r.Err)
			assert.Equal(t, "page "+r.ItemID, r.Text)
		}
	}
}

func TestCollectAll_ProgressSerializedAcrossWorkers(t *testing.T) {
	pages := map[string]fakePage{}
	var items []tree.Item
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		url := "https://" + id
		pages[url] = fakePage{text: "page " + id}
		items = append(items, leaf(id, url))
	}
	c := NewCollector(&fakeOpener{pages: pages}, limiter.New(6), time.Second, nil)

	var inside, overlaps atomic.Int32
	var last int
	_, err := c.CollectAll(context.Background(), items, func(done, total int) {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		assert.Equal(t, last+1, done)
		last = done
		inside.Add(-1)
	})
	require.NoError(t, err)
	assert.Zero(t, overlaps.Load())
	assert.Equal(t, len(items), last)
}

func TestCollectAll_Cancelled(t *testing.T) {
	o := &fakeOpener{pages: map[string]fakePage{"https://x": {delay: -1}}}
	c := NewCollector(o, limiter.New(1), time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.CollectAll(ctx, []tree.Item{leaf("x", "https://x")}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
