package embeddings

import (
	"context"
	"fmt"
)

const (
	defaultLocalDimension = 256
	// localMaxLength truncates each text to this many tokens.
	localMaxLength = 512
)

// localEmbedder is an in-process encoder: every token id maps to a fixed
// pseudo-random vector and a text is the attention-masked mean of its tokens.
// It needs no model server, which makes it the default for offline runs and tests.
type localEmbedder struct {
	tokenizer Tokenizer
	dimension int
}

func NewLocalEmbedder(tokenizer Tokenizer, dimension int) Embedder {
	if tokenizer == nil {
		tokenizer = NewWordTokenizer()
	}
	if dimension <= 0 {
		dimension = defaultLocalDimension
	}
	return &localEmbedder{tokenizer: tokenizer, dimension: dimension}
}

func (e *localEmbedder) Name() string {
	return fmt.Sprintf("local/%s/%d", e.tokenizer.Name(), e.dimension)
}

func (e *localEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([][]int, len(texts))
	longest := 0
	for i, text := range texts {
		encoded := e.tokenizer.Encode(text)
		if len(encoded) > localMaxLength {
			encoded = encoded[:localMaxLength]
		}
		ids[i] = encoded
		if len(encoded) > longest {
			longest = len(encoded)
		}
	}

	results := make([][]float32, len(texts))
	for i, seq := range ids {
		tokens := make([][]float32, longest)
		mask := make([]int, longest)
		for pos := 0; pos < longest; pos++ {
			if pos < len(seq) {
				tokens[pos] = e.tokenVector(seq[pos])
				mask[pos] = 1
				continue
			}
			tokens[pos] = make([]float32, e.dimension)
		}
		if longest == 0 {
			results[i] = make([]float32, e.dimension)
			continue
		}
		results[i] = MeanPool(tokens, mask)
	}

	return results, nil
}

func (e *localEmbedder) tokenVector(id int) []float32 {
	vec := make([]float32, e.dimension)
	state := uint64(id)*0x9E3779B97F4A7C15 + 1
	for i := range vec {
		state = splitmix64(state)
		// Map the top 24 bits to [-1, 1).
		vec[i] = float32(state>>40)/float32(1<<23) - 1
	}
	return vec
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
