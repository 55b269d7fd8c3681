package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"opposite", Vector{1, 0}, Vector{-1, 0}, -1},
		{"scaled", Vector{1, 1}, Vector{3, 3}, 1},
		{"mostly x", Vector{0.9, 0.1}, Vector{1, 0}, 0.9 / math.Sqrt(0.82)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCosine_Symmetric(t *testing.T) {
	pairs := [][2]Vector{
		{{0.3, -0.2, 0.9}, {0.1, 0.4, -0.5}},
		{{1, 2}, {2, 1}},
		{{0.5}, {-0.25}},
	}
	for _, p := range pairs {
		assert.InDelta(t, Cosine(p[0], p[1]), Cosine(p[1], p[0]), 1e-12)
	}
}

func TestCosine_SelfSimilarityIsOne(t *testing.T) {
	for _, v := range []Vector{{1}, {0.2, 0.7}, {-3, 4, 12}} {
		assert.InDelta(t, 1.0, Cosine(v, v), 1e-6)
	}
}

func TestCosine_Undefined(t *testing.T) {
	assert.True(t, math.IsNaN(Cosine(Vector{0, 0}, Vector{1, 0})))
	assert.True(t, math.IsNaN(Cosine(Vector{1, 0}, Vector{1, 0, 0})))
	assert.True(t, math.IsNaN(Cosine(nil, nil)))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Vector{0.1, -0.2}.Validate())

	for _, v := range []Vector{nil, {}, {float32(math.NaN())}, {float32(math.Inf(1)), 0}} {
		err := v.Validate()
		assert.ErrorIs(t, err, ErrPrecondition)
	}
}

func TestIsNull(t *testing.T) {
	assert.True(t, Vector(nil).IsNull())
	assert.True(t, Vector{}.IsNull())
	assert.False(t, Vector{0}.IsNull())
}
