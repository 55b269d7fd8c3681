package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// FakeProvider is a deterministic Provider for tests. A text listed in
// Vectors gets that vector; any other text is a bag of words hashed into Dim
// buckets, so texts sharing words are similar.
type FakeProvider struct {
	Dim     int
	Vectors map[string][]float32

	mu     sync.Mutex
	calls  [][]string
	err    error
	closed bool
}

// NewFakeProvider returns a FakeProvider with dim buckets.
func NewFakeProvider(dim int) *FakeProvider {
	return &FakeProvider{Dim: dim, Vectors: map[string][]float32{}}
}

// EmbedDocuments implements Embedder.
func (f *FakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery implements Embedder.
func (f *FakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *FakeProvider) vector(text string) []float32 {
	if v, ok := f.Vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	v := make([]float32, f.Dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(f.Dim)]++
	}
	return v
}

// Dimension implements Provider.
func (f *FakeProvider) Dimension() int { return f.Dim }

// Close implements Provider.
func (f *FakeProvider) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeProvider) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Fail makes every later call return err. Pass nil to recover.
func (f *FakeProvider) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Calls returns the text batches received so far.
func (f *FakeProvider) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}
