// Package content acquires the text of the resource a leaf points at.
//
// An Opener starts loading a leaf's resource and returns a Session. The
// Collector waits for the session to report it has loaded, up to a soft
// timeout, then extracts whatever text is available. Failures never escape a
// single item: they degrade to empty content.
package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/shelve/internal/limiter"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// DefaultLoadTimeout is how long Collect waits for a session to load before
// extracting partial content.
const DefaultLoadTimeout = 5 * time.Second

// ErrContentUnavailable indicates no content could be acquired for an item.
var ErrContentUnavailable = errors.New("content unavailable")

// Session is one in-progress load of a leaf's resource.
type Session interface {
	// Loaded is closed once the resource has fully loaded.
	Loaded() <-chan struct{}
	// Extract returns the text available so far.
	Extract(ctx context.Context) (string, error)
	// Close releases the session. It must be safe to call at any point.
	Close() error
}

// Opener starts loading a leaf's resource.
type Opener interface {
	Open(ctx context.Context, item tree.Item) (Session, error)
}

// Result is the outcome for one leaf. Err is informational; Text is empty
// whenever Err is set.
type Result struct {
	ItemID string
	Text   string
	Err    error
}

// Collector acquires content under a shared concurrency limit.
type Collector struct {
	opener      Opener
	limiter     *limiter.Limiter
	loadTimeout time.Duration
	logger      *zap.Logger
}

// NewCollector returns a collector. loadTimeout <= 0 selects
// DefaultLoadTimeout.
func NewCollector(opener Opener, lim *limiter.Limiter, loadTimeout time.Duration, logger *zap.Logger) *Collector {
	if lim == nil {
		lim = limiter.New(limiter.DefaultConcurrency)
	}
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{opener: opener, limiter: lim, loadTimeout: loadTimeout, logger: logger}
}

// Collect loads item and returns its text. The session is always closed.
func (c *Collector) Collect(ctx context.Context, item tree.Item) (text string, err error) {
	if item.URL == "" {
		return "", fmt.Errorf("%w: %s has no url", ErrContentUnavailable, item.ID)
	}

	sess, err := c.opener.Open(ctx, item)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ErrContentUnavailable, item.URL, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.logger.Warn("closing content session", zap.String("url", item.URL), zap.Error(cerr))
		}
	}()

	timer := time.NewTimer(c.loadTimeout)
	defer timer.Stop()
	select {
	case <-sess.Loaded():
	case <-timer.C:
		c.logger.Warn("page load timed out, extracting partial content",
			zap.String("url", item.URL),
			zap.Duration("timeout", c.loadTimeout),
		)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	text, err = sess.Extract(ctx)
	if err != nil {
		if errors.Is(err, ErrContentUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: extracting %s: %v", ErrContentUnavailable, item.URL, err)
	}
	return text, nil
}

// Acquire runs Collect under the limiter and degrades every failure to "".
func (c *Collector) Acquire(ctx context.Context, item tree.Item) string {
	res := c.acquire(ctx, item)
	return res.Text
}

func (c *Collector) acquire(ctx context.Context, item tree.Item) Result {
	res := Result{ItemID: item.ID}
	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		text, err := c.Collect(ctx, item)
		res.Text = text
		return err
	})
	if err != nil {
		res.Text, res.Err = "", err
		c.logger.Debug("content unavailable",
			zap.String("item.id", item.ID),
			zap.String("url", item.URL),
			zap.Error(err),
		)
	}
	return res
}

// CollectAll acquires content for every item under the limiter. Results are
// in input order. onDone, when set, is called once per finished item with
// the number finished so far; calls are serialized. Per-item failures are
// reported in Result.Err and never stop other items. The error is non-nil
// only when ctx ends.
func (c *Collector) CollectAll(ctx context.Context, items []tree.Item, onDone func(done, total int)) ([]Result, error) {
	results := make([]Result, len(items))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			results[i] = c.acquire(gctx, item)

			mu.Lock()
			done++
			if onDone != nil {
				onDone(done, len(items))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
