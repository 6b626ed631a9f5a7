package vectormath

import (
	"errors"
	"math"
	"testing"
)

// almostEqual reports whether two floats agree within a small epsilon.
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDotProduct(t *testing.T) {
	got, err := DotProduct([]float32{1, 2, 3}, []float32{4, 5, 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 32 {
		t.Errorf("DotProduct = %v, want 32", got)
	}
}

func TestDotProduct_DimensionMismatch(t *testing.T) {
	_, err := DotProduct([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestMagnitude(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		want float64
	}{
		{"3-4-5 triangle", []float32{3, 4}, 5},
		{"zero vector", []float32{0, 0, 0}, 0},
		{"empty", nil, 0},
		{"unit", []float32{1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Magnitude(tt.v); !almostEqual(got, tt.want) {
				t.Errorf("Magnitude(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{2.2, 0.9, -0.4, 1.7}

	ab, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := CosineSimilarity(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(ab, ba) {
		t.Errorf("cosine(a,b) = %v, cosine(b,a) = %v; want equal", ab, ba)
	}
}

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	a := []float32{1, 2, 3}
	got, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 1) {
		t.Errorf("cosine(a,a) = %v, want 1", got)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	got, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 0) {
		t.Errorf("cosine = %v, want 0", got)
	}
}

func TestCosineSimilarity_Opposite(t *testing.T) {
	got, err := CosineSimilarity([]float32{1, 2}, []float32{-1, -2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, -1) {
		t.Errorf("cosine = %v, want -1", got)
	}
}

func TestCosineSimilarity_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"both empty", nil, nil},
		{"zero magnitude a", []float32{0, 0}, []float32{1, 2}},
		{"zero magnitude b", []float32{1, 2}, []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != 0 {
				t.Errorf("cosine = %v, want 0", got)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEuclideanDistance(t *testing.T) {
	got, err := EuclideanDistance([]float32{0, 0}, []float32{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 5) {
		t.Errorf("EuclideanDistance = %v, want 5", got)
	}
}

func TestManhattanDistance(t *testing.T) {
	got, err := ManhattanDistance([]float32{1, 1}, []float32{4, -3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got, 7) {
		t.Errorf("ManhattanDistance = %v, want 7", got)
	}
}

func TestDistances_DimensionMismatch(t *testing.T) {
	if _, err := EuclideanDistance([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("euclidean err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := ManhattanDistance([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("manhattan err = %v, want ErrDimensionMismatch", err)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{3, 4})
	if !almostEqual(float64(got[0]), 0.6) || !almostEqual(float64(got[1]), 0.8) {
		t.Errorf("Normalize = %v, want [0.6 0.8]", got)
	}
	if !almostEqual(Magnitude(got), 1) {
		t.Errorf("‖Normalize(v)‖ = %v, want 1", Magnitude(got))
	}
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	got := Normalize([]float32{0, 0, 0})
	for i, x := range got {
		if x != 0 {
			t.Errorf("got[%d] = %v, want 0", i, x)
		}
	}
}

func TestAddSubtractScale(t *testing.T) {
	sum, err := Add([]float32{1, 2}, []float32{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum[0] != 4 || sum[1] != 6 {
		t.Errorf("Add = %v, want [4 6]", sum)
	}

	diff, err := Subtract([]float32{3, 4}, []float32{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff[0] != 2 || diff[1] != 2 {
		t.Errorf("Subtract = %v, want [2 2]", diff)
	}

	scaled := Scale([]float32{1, -2}, 3)
	if scaled[0] != 3 || scaled[1] != -6 {
		t.Errorf("Scale = %v, want [3 -6]", scaled)
	}
}

func TestMean(t *testing.T) {
	got, err := Mean([][]float32{{1, 2}, {3, 4}, {5, 6}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(float64(got[0]), 3) || !almostEqual(float64(got[1]), 4) {
		t.Errorf("Mean = %v, want [3 4]", got)
	}
}

func TestMean_EmptyInput(t *testing.T) {
	_, err := Mean(nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestMean_DimensionMismatch(t *testing.T) {
	_, err := Mean([][]float32{{1, 2}, {1, 2, 3}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestFindMostSimilar_Ranking(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{0, 1},   // orthogonal
		{1, 0},   // identical direction
		{-1, 0},  // opposite
		{1, 0.1}, // close
	}

	matches, err := FindMostSimilar(query, candidates, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("len(matches) = %d, want 4", len(matches))
	}

	// Sorted by non-increasing similarity.
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Errorf("matches not sorted: %v before %v", matches[i-1], matches[i])
		}
	}
	if matches[0].Index != 1 {
		t.Errorf("best match index = %d, want 1", matches[0].Index)
	}
	if matches[len(matches)-1].Index != 2 {
		t.Errorf("worst match index = %d, want 2", matches[len(matches)-1].Index)
	}
}

func TestFindMostSimilar_TopKTruncation(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}, {1, 1}}

	matches, err := FindMostSimilar(query, candidates, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("len(matches) = %d, want 2", len(matches))
	}
}

func TestFindMostSimilar_TieKeepsInputOrder(t *testing.T) {
	query := []float32{1, 0}
	// Identical candidates tie exactly; stable sort must keep input order.
	candidates := [][]float32{{2, 0}, {1, 0}, {3, 0}}

	matches, err := FindMostSimilar(query, candidates, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, m := range matches {
		if m.Index != i {
			t.Errorf("matches[%d].Index = %d, want %d (stable tie order)", i, m.Index, i)
		}
	}
}

func TestFindMostSimilar_DimensionMismatch(t *testing.T) {
	_, err := FindMostSimilar([]float32{1, 0}, [][]float32{{1, 0, 0}}, 1)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestFindMostSimilar_NonPositiveTopK(t *testing.T) {
	matches, err := FindMostSimilar([]float32{1}, [][]float32{{1}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches != nil {
		t.Errorf("matches = %v, want nil", matches)
	}
}
