package embeddings

import (
	"context"
	"fmt"

	"github.com/fabfab/iterative-rag/config"
)

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the encoder configuration; vectors from different names are not comparable.
	Name() string
}

type Options struct {
	Provider  string
	Model     string
	Dimension int
	Tokenizer string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		Tokenizer:     cfg.Embeddings.Tokenizer,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	case config.ProviderLocal:
		tokenizer, err := NewTokenizer(opts.Tokenizer)
		if err != nil {
			return nil, fmt.Errorf("local embedder tokenizer: %w", err)
		}
		return NewLocalEmbedder(tokenizer, opts.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

// EmbedBatched encodes texts in consecutive batches of at most size texts and
// concatenates the results. Output order always matches input order.
func EmbedBatched(ctx context.Context, embedder Embedder, texts []string, size int) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", end-start, len(batch))
		}
		results = append(results, batch...)
	}

	return results, nil
}
