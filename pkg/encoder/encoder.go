// Package encoder converts text into unit-normalized embedding vectors and
// loads precomputed vector archives.
package encoder

import (
	"context"
	"errors"
	"math"
)

// Encoding errors.
var (
	// ErrEmptyInput indicates Encode was called with empty or blank text.
	ErrEmptyInput = errors.New("encoder: empty input text")

	// ErrZeroNorm indicates the model returned an all-zero vector that
	// cannot be normalized.
	ErrZeroNorm = errors.New("encoder: zero-norm embedding")

	// ErrDimensionMismatch indicates a vector's dimension does not match the
	// encoder's configured dimension.
	ErrDimensionMismatch = errors.New("encoder: dimension mismatch")
)

// Vector is a fixed-dimension embedding. All vectors handed out by this
// package are unit-normalized, so cosine similarity is the inner product.
type Vector []float32

// Encoder converts text into unit-norm vectors of a fixed dimension.
// Encode is deterministic for a given model build and fails on empty input.
type Encoder interface {
	Encode(ctx context.Context, text string) (Vector, error)
	BatchEncode(ctx context.Context, texts []string) ([]Vector, error)
	Dim() int
}

// Dot returns the inner product of two vectors of equal length.
func Dot(a, b Vector) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean norm.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit norm in place. Returns ErrZeroNorm when the
// vector has no magnitude.
func Normalize(v Vector) error {
	n := Norm(v)
	if n == 0 {
		return ErrZeroNorm
	}
	inv := float32(1 / n)
	for i := range v {
		v[i] *= inv
	}
	return nil
}
