// Package vector defines the embedding vector type and similarity math.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrPrecondition marks a caller error: an empty batch, a malformed vector,
// or any other input that must be rejected rather than coerced.
var ErrPrecondition = errors.New("precondition violation")

// Vector is a dense embedding. A nil Vector is the "no embedding" marker.
type Vector []float32

// IsNull reports whether v carries no embedding.
func (v Vector) IsNull() bool {
	return len(v) == 0
}

// Validate rejects empty vectors and non-finite components.
func (v Vector) Validate() error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrPrecondition)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrPrecondition, i)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b. It returns NaN when the
// dimensions differ or either vector has zero magnitude, so callers can drop
// the pair.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
