package embeddings

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/vector"
)

// DefaultMinContentChars is the default screen threshold.
const DefaultMinContentChars = 3

var tracer = otel.Tracer("shelve.embeddings")

// HasEnoughContent reports whether text has at least minChars
// non-whitespace characters.
func HasEnoughContent(text string, minChars int) bool {
	n := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		n++
		if n >= minChars {
			return true
		}
	}
	return n >= minChars
}

// Batcher embeds many texts in one model call.
type Batcher struct {
	source   Source
	minChars int
	metrics  *Metrics
	logger   *zap.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithMinContentChars sets the screen threshold.
func WithMinContentChars(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.minChars = n
		}
	}
}

// WithBatcherMetrics records screened texts on m.
func WithBatcherMetrics(m *Metrics) BatcherOption {
	return func(b *Batcher) { b.metrics = m }
}

// WithBatcherLogger sets the logger.
func WithBatcherLogger(l *zap.Logger) BatcherOption {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBatcher embeds with the provider from source.
func NewBatcher(source Source, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		source:   source,
		minChars: DefaultMinContentChars,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MinContentChars returns the screen threshold.
func (b *Batcher) MinContentChars() int {
	return b.minChars
}

// EmbedBatch returns one entry per text. Entry i is nil exactly when texts[i]
// fails HasEnoughContent. Texts that pass are embedded in a single model
// call; when none pass the model is not called. An empty texts slice is
// rejected with ErrEmptyInput. Any model failure fails the whole batch with
// ErrEmbeddingFailed.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: embed batch needs at least one text", ErrEmptyInput)
	}

	ctx, span := tracer.Start(ctx, "Batcher.EmbedBatch")
	defer span.End()

	out := make([]vector.Vector, len(texts))
	positions := make([]int, 0, len(texts))
	kept := make([]string, 0, len(texts))
	for i, text := range texts {
		if HasEnoughContent(text, b.minChars) {
			positions = append(positions, i)
			kept = append(kept, text)
		}
	}
	span.SetAttributes(
		attribute.Int("texts", len(texts)),
		attribute.Int("embedded", len(kept)),
	)
	b.metrics.RecordScreened(ctx, len(texts)-len(kept))

	if len(kept) == 0 {
		return out, nil
	}

	provider, err := b.source.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model unavailable")
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	vectors, err := provider.EmbedDocuments(ctx, kept)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrEmbeddingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("%w: model returned %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(kept))
	}

	for j, pos := range positions {
		v := vector.Vector(vectors[j])
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: text %d: %v", ErrEmbeddingFailed, pos, err)
		}
		out[pos] = v
	}

	b.logger.Debug("embedded batch",
		zap.Int("texts", len(texts)),
		zap.Int("embedded", len(kept)),
	)
	return out, nil
}

// Embed embeds one text, returning nil when it fails the screen.
func (b *Batcher) Embed(ctx context.Context, text string) (vector.Vector, error) {
	out, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
