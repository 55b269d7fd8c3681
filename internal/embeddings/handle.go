package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHandleClosed is returned by Get after Close.
var ErrHandleClosed = errors.New("embedding handle closed")

// Factory builds a provider. It is called at most once per successful Get.
type Factory func(ctx context.Context) (Provider, error)

// Source hands out the provider to embed with.
type Source interface {
	Get(ctx context.Context) (Provider, error)
}

// Handle owns one lazily created Provider. The first Get builds it; later
// calls share it until Close. A failed build is not cached.
type Handle struct {
	factory Factory
	logger  *zap.Logger

	mu       sync.Mutex
	provider Provider
	closed   bool
}

// NewHandle returns a handle that builds its provider with factory.
func NewHandle(factory Factory, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{factory: factory, logger: logger}
}

// NewHandleFromConfig returns a handle building NewProvider(cfg).
func NewHandleFromConfig(cfg ProviderConfig) *Handle {
	return NewHandle(func(context.Context) (Provider, error) {
		return NewProvider(cfg)
	}, cfg.Logger)
}

// Get returns the provider, building it on first use.
func (h *Handle) Get(ctx context.Context) (Provider, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.provider != nil {
		return h.provider, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	p, err := h.factory(ctx)
	if err != nil {
		h.logger.Warn("embedding model failed to load", zap.Error(err))
		return nil, fmt.Errorf("loading embedding model: %w", err)
	}
	h.provider = p
	h.logger.Info("embedding model loaded",
		zap.Int("dimension", p.Dimension()),
		zap.Duration("took", time.Since(start)),
	)
	return p, nil
}

// Init builds the provider eagerly.
func (h *Handle) Init(ctx context.Context) error {
	_, err := h.Get(ctx)
	return err
}

// Loaded reports whether the provider has been built.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provider != nil
}

// Close releases the provider. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.provider == nil {
		return nil
	}
	err := h.provider.Close()
	h.provider = nil
	return err
}

// Fixed returns a Source that always yields p.
func Fixed(p Provider) Source {
	return fixedSource{p}
}

type fixedSource struct{ p Provider }

func (f fixedSource) Get(context.Context) (Provider, error) { return f.p, nil }
