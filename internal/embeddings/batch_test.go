package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelve/internal/telemetry"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	out, _ := args.Get(0).([][]float32)
	return out, args.Error(1)
}

func (m *mockProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	out, _ := args.Get(0).([]float32)
	return out, args.Error(1)
}

func (m *mockProvider) Dimension() int { return 2 }

func (m *mockProvider) Close() error {
	return m.Called().Error(0)
}

func TestHasEnoughContent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"hi", false},
		{"  h i  ", false},
		{"\n\t a b \n", false},
		{"abc", true},
		{" a b c ", true},
		{"Work", true},
		{"日本語", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, HasEnoughContent(tt.text, 3))
		})
	}
}

func TestBatcher_PreservesPositions(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, []string{"Work", "Science"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil).Once()

	b := NewBatcher(Fixed(p))
	out, err := b.EmbedBatch(context.Background(), []string{"hi", "Work", "  ", "Science", ""})
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Nil(t, out[0])
	assert.Equal(t, vector.Vector{1, 0}, out[1])
	assert.Nil(t, out[2])
	assert.Equal(t, vector.Vector{0, 1}, out[3])
	assert.Nil(t, out[4])
	p.AssertExpectations(t)
}

func TestBatcher_AllScreenedSkipsModel(t *testing.T) {
	p := &mockProvider{}
	b := NewBatcher(Fixed(p))

	out, err := b.EmbedBatch(context.Background(), []string{"a", "", " b "})
	require.NoError(t, err)
	assert.Equal(t, []vector.Vector{nil, nil, nil}, out)
	p.AssertNotCalled(t, "EmbedDocuments", mock.Anything, mock.Anything)
}

func TestBatcher_EmptyInput(t *testing.T) {
	b := NewBatcher(Fixed(&mockProvider{}))

	_, err := b.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.ErrorIs(t, err, vector.ErrPrecondition)

	_, err = b.EmbedBatch(context.Background(), []string{})
	assert.ErrorIs(t, err, vector.ErrPrecondition)
}

func TestBatcher_ModelFailureIsAllOrNothing(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, mock.Anything).Return(nil, errors.New("onnx exploded"))

	out, err := NewBatcher(Fixed(p)).EmbedBatch(context.Background(), []string{"Work", "Science"})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestBatcher_CountMismatch(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)

	_, err := NewBatcher(Fixed(p)).EmbedBatch(context.Background(), []string{"Work", "Science"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestBatcher_RejectsEmptyVectorFromModel(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, mock.Anything).Return([][]float32{{}}, nil)

	_, err := NewBatcher(Fixed(p)).EmbedBatch(context.Background(), []string{"Work"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestBatcher_SourceFailure(t *testing.T) {
	h := NewHandle(func(context.Context) (Provider, error) { return nil, errors.New("no runtime") }, nil)

	_, err := NewBatcher(h).EmbedBatch(context.Background(), []string{"Work"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.False(t, h.Loaded())
}

func TestBatcher_MinContentChars(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, []string{"hello"}).Return([][]float32{{1, 1}}, nil)

	b := NewBatcher(Fixed(p), WithMinContentChars(5))
	assert.Equal(t, 5, b.MinContentChars())

	out, err := b.EmbedBatch(context.Background(), []string{"Work", "hello"})
	require.NoError(t, err)
	assert.Nil(t, out[0])
	assert.NotNil(t, out[1])
}

func TestBatcher_Embed(t *testing.T) {
	p := &mockProvider{}
	p.On("EmbedDocuments", mock.Anything, []string{"Science"}).Return([][]float32{{0.5, 0.5}}, nil)
	b := NewBatcher(Fixed(p))

	v, err := b.Embed(context.Background(), "Science")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.5, 0.5}, v)

	v, err = b.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBatcher_RecordsScreenedMetric(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewMetrics(tel.Meter("test"), nil)

	b := NewBatcher(Fixed(&mockProvider{}), WithBatcherMetrics(m))
	_, err := b.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), tel.CounterTotal(t, "shelve.embedding.screened_total"))
}
