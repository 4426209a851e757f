package retrieval

import (
	"fmt"
	"math"
	"sort"
)

// Similarity metrics accepted by Options.Metric. An empty metric means MetricDot.
const (
	MetricDot    = "dot"
	MetricCosine = "cosine"
)

type scoreFunc func(a, b []float32) float32

func scorerFor(metric string) (scoreFunc, error) {
	switch metric {
	case "", MetricDot:
		return Dot, nil
	case MetricCosine:
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unknown similarity metric: %s", metric)
	}
}

// Dot returns the raw inner product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// topK returns the indices of the k highest scores in descending order.
// Equal scores keep ascending index order.
func topK(scores []float32, k int) []int {
	if k <= 0 {
		return []int{}
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if k < len(order) {
		order = order[:k]
	}
	return order
}
