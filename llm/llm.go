package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/iterative-rag/config"
)

const RoleUser = "user"

// FormatJSON asks the backend to constrain its output to JSON where supported.
const FormatJSON = "json"

// Options are the sampling options shared by every caller of the backend.
type Options struct {
	Temperature float32
	// MaxTokens bounds output length; zero leaves the backend default.
	MaxTokens int
	Stop      []string
}

// Request is a single non-streaming generation. An empty Model uses the client default.
type Request struct {
	Model   string
	Prompt  string
	Options Options
	Format  string
}

type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type ClientOptions struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := ClientOptions{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

func modelOrDefault(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
