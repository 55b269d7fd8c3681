package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// placeholderEmbedding is attached to every document. Records are looked up
// by id, never by similarity, so one constant unit vector is enough.
var placeholderEmbedding = []float32{1}

var (
	errNoEmbedding = errors.New("chromem backend never embeds content")
	errEmptyKey    = errors.New("empty key")
)

// ChromemBackend stores each entry as a chromem-go document whose content is
// the encoded record.
type ChromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// OpenChromem opens a persistent chromem database at path, or an in-memory
// one when path is empty.
func OpenChromem(path, collection string, compress bool) (*ChromemBackend, error) {
	if collection == "" {
		collection = "shelve_embeddings"
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }
	col, err := db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}
	return &ChromemBackend{db: db, collection: col}, nil
}

func (c *ChromemBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	// GetByID fails only for an empty or unknown id.
	doc, err := c.collection.GetByID(ctx, key)
	if err != nil {
		return nil, false, nil
	}
	return []byte(doc.Content), true, nil
}

func (c *ChromemBackend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := c.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *ChromemBackend) Set(ctx context.Context, key string, value []byte) error {
	return c.collection.AddDocument(ctx, chromem.Document{
		ID:        key,
		Content:   string(value),
		Embedding: placeholderEmbedding,
	})
}

func (c *ChromemBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.collection.Delete(ctx, nil, nil, keys...)
}

func (c *ChromemBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	n := c.collection.Count()
	if n == 0 {
		return nil, nil
	}
	// chromem has no listing call; a full-size query returns every document.
	results, err := c.collection.QueryEmbedding(ctx, placeholderEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing chromem documents: %w", err)
	}
	keys := make([]string, 0, len(results))
	for _, r := range results {
		if strings.HasPrefix(r.ID, prefix) {
			keys = append(keys, r.ID)
		}
	}
	return keys, nil
}

// Close is a no-op: persistent chromem databases write through on every change.
func (c *ChromemBackend) Close() error { return nil }
