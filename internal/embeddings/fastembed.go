//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model defaults to BAAI/bge-small-en-v1.5.
	Model string
	// CacheDir holds downloaded model files.
	CacheDir string
	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
	Metrics   *Metrics
}

// FastEmbedProvider runs a local ONNX model.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	metrics   *Metrics
	// Inference holds the read lock; Close takes the write lock.
	mu sync.RWMutex
}

var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"fast-bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"fast-bge-small-en":                      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"fast-bge-base-en":                       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":                  fastembed.AllMiniLML6V2,
}

// NewFastEmbedProvider loads the model, downloading it into CacheDir on
// first use. The ONNX runtime must be installed (see EnsureONNXRuntime).
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, cfg.Model)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	if path := GetONNXLibraryPath(); path != "" {
		if err := setONNXPathEnv(path); err != nil {
			return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
		}
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
		metrics:   cfg.Metrics,
	}, nil
}

// EmbedDocuments embeds texts with the "passage: " prefix BGE models expect.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return timed(ctx, p.metrics, p.modelName, "embed_documents", len(texts), func() ([][]float32, error) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.model == nil {
			return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
		}
		out, err := p.model.PassageEmbed(texts, 256)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return out, nil
	})
}

// EmbedQuery embeds text with the "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return timed(ctx, p.metrics, p.modelName, "embed_query", 1, func() ([]float32, error) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.model == nil {
			return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
		}
		out, err := p.model.QueryEmbed(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return out, nil
	})
}

func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session. Further calls fail with ErrEmbeddingFailed.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
