package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds configuration for a TEI server.
type Config struct {
	BaseURL string
	Model   string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds each request. Defaults to 60s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// Service calls the /embed endpoint of a Text Embeddings Inference server.
type Service struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

// NewService creates a TEI client. metrics may be nil.
func NewService(config Config, metrics *Metrics) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Service{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: metrics,
	}, nil
}

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments embeds texts in one request.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return timed(ctx, s.metrics, s.config.Model, "embed_documents", len(texts), func() ([][]float32, error) {
		vectors, err := s.embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		}
		return vectors, nil
	})
}

// EmbedQuery embeds a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return timed(ctx, s.metrics, s.config.Model, "embed_query", 1, func() ([]float32, error) {
		vectors, err := s.embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		}
		return vectors[0], nil
	})
}

func (s *Service) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}
