package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/config"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

var (
	// ErrEmptyInput indicates an empty batch or an empty text.
	ErrEmptyInput = fmt.Errorf("empty input: %w", vector.ErrPrecondition)

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the model call itself failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates embeddings.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder that owns model resources.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed", "tei" or "openai".
	Provider string
	Model    string
	// BaseURL is the server URL for tei and openai.
	BaseURL string
	APIKey  string
	// CacheDir holds downloaded FastEmbed models.
	CacheDir string
	Logger   *zap.Logger
	Metrics  *Metrics
}

// FromConfig converts the embeddings section of the application config.
func FromConfig(cfg config.EmbeddingsConfig, logger *zap.Logger) (ProviderConfig, error) {
	cacheDir, err := config.ExpandPath(cfg.CacheDir)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("expanding cache dir: %w", err)
	}
	return ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey.Value(),
		CacheDir: cacheDir,
		Logger:   logger,
	}, nil
}

// knownDimensions maps model names to their output dimension.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// detectDimensionFromModel returns the embedding dimension for a model name,
// guessing from the name when the model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil, cfg.Logger)
	}

	switch cfg.Provider {
	case config.ProviderFastEmbed, "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
			Metrics:  cfg.Metrics,
		})
	case config.ProviderTEI:
		svc, err := NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		}, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		return &teiProvider{Service: svc, dimension: detectDimensionFromModel(cfg.Model)}, nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		}, cfg.Metrics)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// teiProvider wraps Service to implement Provider.
type teiProvider struct {
	*Service
	dimension int
}

func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op; TEI is reached over HTTP.
func (t *teiProvider) Close() error {
	return nil
}
