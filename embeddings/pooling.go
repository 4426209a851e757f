package embeddings

// poolingFloor keeps a fully masked sequence from dividing by zero.
const poolingFloor = 1e-9

// MeanPool averages the token vectors whose attention mask is non-zero.
// tokens and mask must have the same length; every token vector must share one dimension.
func MeanPool(tokens [][]float32, mask []int) []float32 {
	if len(tokens) == 0 {
		return nil
	}

	dim := len(tokens[0])
	sum := make([]float64, dim)
	count := 0.0
	for i, vec := range tokens {
		if i >= len(mask) || mask[i] == 0 {
			continue
		}
		weight := float64(mask[i])
		for j := 0; j < dim && j < len(vec); j++ {
			sum[j] += float64(vec[j]) * weight
		}
		count += weight
	}

	if count < poolingFloor {
		count = poolingFloor
	}

	pooled := make([]float32, dim)
	for j := range sum {
		pooled[j] = float32(sum[j] / count)
	}
	return pooled
}
