package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// BaseURL defaults to the OpenAI API when empty.
	BaseURL string
	Model   string
	APIKey  string
	// BatchSize caps texts per request. Defaults to 512.
	BatchSize int
}

// OpenAIProvider embeds through langchaingo's OpenAI client.
type OpenAIProvider struct {
	embedder  lcembeddings.Embedder
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAIProvider builds the client. No request is made until first use.
func NewOpenAIProvider(cfg OpenAIConfig, metrics *Metrics) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		// The client refuses to start without a token; local servers ignore it.
		cfg.APIKey = "placeholder"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 512
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating openai client: %v", ErrInvalidConfig, err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrInvalidConfig, err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
		metrics:   metrics,
	}, nil
}

func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return timed(ctx, p.metrics, p.model, "embed_documents", len(texts), func() ([][]float32, error) {
		out, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return out, nil
	})
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return timed(ctx, p.metrics, p.model, "embed_query", 1, func() ([]float32, error) {
		out, err := p.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return out, nil
	})
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) Close() error { return nil }
