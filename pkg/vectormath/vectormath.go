// Package vectormath provides the pure vector arithmetic used by semantic
// tool discovery: cosine similarity, distance metrics, normalisation, and
// top-K ranking over candidate embeddings.
//
// All functions operate on []float32 slices (the element type produced by the
// embeddings providers) but accumulate in float64 to limit rounding error.
// None of the functions mutate their inputs.
//
// Length mismatches between vectors are contract violations, not data: every
// embedding in the marketplace shares the dimensionality fixed by the
// embeddings provider, so a mismatch means a programming error upstream.
// Functions report it with [ErrDimensionMismatch] instead of silently
// truncating.
package vectormath

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors of unequal length are
// combined. Embeddings in a single marketplace always share one
// dimensionality, so this indicates a bug, not bad user input.
var ErrDimensionMismatch = errors.New("vectormath: dimension mismatch")

// ErrEmptyInput is returned by [Mean] when called with no vectors.
var ErrEmptyInput = errors.New("vectormath: empty input")

// dimensionError wraps [ErrDimensionMismatch] with the offending lengths.
func dimensionError(lenA, lenB int) error {
	return fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, lenA, lenB)
}

// DotProduct returns the inner product a·b.
// Returns [ErrDimensionMismatch] if the lengths differ.
func DotProduct(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Magnitude returns the Euclidean norm ‖v‖. Defined for every input,
// including the empty vector (norm 0).
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns (a·b)/(‖a‖·‖b‖) in [-1, 1].
//
// By convention it returns 0 (not an error) when either vector is empty or
// has zero magnitude: a tool with a degenerate embedding ranks last instead
// of poisoning a whole search. A length mismatch between non-degenerate
// vectors is still [ErrDimensionMismatch].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	magA := Magnitude(a)
	magB := Magnitude(b)
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	dot, err := DotProduct(a, b)
	if err != nil {
		return 0, err
	}
	return dot / (magA * magB), nil
}

// EuclideanDistance returns ‖a−b‖.
// Returns [ErrDimensionMismatch] if the lengths differ.
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// ManhattanDistance returns Σ|a_i − b_i|.
// Returns [ErrDimensionMismatch] if the lengths differ.
func ManhattanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionError(len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum, nil
}

// Normalize returns v scaled to unit length, or v unchanged (a copy) when
// ‖v‖ = 0 — there is no direction to preserve in a zero vector.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// Add returns the elementwise sum a+b.
// Returns [ErrDimensionMismatch] if the lengths differ.
func Add(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, dimensionError(len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// Subtract returns the elementwise difference a−b.
// Returns [ErrDimensionMismatch] if the lengths differ.
func Subtract(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, dimensionError(len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, nil
}

// Scale returns v multiplied elementwise by factor.
func Scale(v []float32, factor float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * factor
	}
	return out
}

// Mean returns the elementwise arithmetic mean of vectors.
//
// Returns [ErrEmptyInput] for an empty set and [ErrDimensionMismatch] when
// the vectors do not all share one length.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyInput
	}
	dim := len(vectors[0])
	sums := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, dimensionError(dim, len(v))
		}
		for i, x := range v {
			sums[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vectors))
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out, nil
}

// Match is one ranked candidate returned by [FindMostSimilar].
type Match struct {
	// Index is the candidate's position in the input slice.
	Index int

	// Similarity is the cosine similarity against the query, in [-1, 1].
	Similarity float64
}

// FindMostSimilar ranks candidates by descending cosine similarity against
// query and returns at most topK matches. Ties keep the candidates' original
// order (the sort is stable on input index). Fewer than topK candidates means
// fewer results, not an error; topK <= 0 returns nil.
//
// Returns [ErrDimensionMismatch] if any candidate's length differs from the
// query's.
func FindMostSimilar(query []float32, candidates [][]float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		matches = append(matches, Match{Index: i, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
