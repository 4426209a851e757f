package reasoning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fabfab/iterative-rag/llm"
)

const (
	decomposeTemperature    = 0.1
	decomposeMaxTokens      = 80
	defaultDecomposeTimeout = 80 * time.Second
)

// Decomposer extracts an intent and a search query from a raw question.
type Decomposer struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *log.Logger
}

func NewDecomposer(client llm.Client, opts Options) *Decomposer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDecomposeTimeout
	}
	return &Decomposer{client: client, model: opts.Model, timeout: opts.Timeout, logger: opts.logger()}
}

// Decompose never fails: any problem yields an empty intent with the question as query.
func (d *Decomposer) Decompose(ctx context.Context, question, model string) Analysis {
	fallback := Analysis{Query: question}
	return WithFallback(d.logger, "decomposer", fallback, func() (Analysis, error) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		raw, err := d.client.Generate(ctx, llm.Request{
			Model:  pick(model, d.model),
			Prompt: decomposePrompt(question),
			Options: llm.Options{
				Temperature: decomposeTemperature,
				MaxTokens:   decomposeMaxTokens,
			},
		})
		if err != nil {
			return Analysis{}, fmt.Errorf("generate analysis: %w", err)
		}

		parsed := ParseAnalysis(raw, question)
		if !parsed.OK {
			return Analysis{}, fmt.Errorf("%w: missing Intent or Query line", ErrMalformed)
		}
		return parsed.Analysis, nil
	})
}

func pick(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
