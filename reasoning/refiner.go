package reasoning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fabfab/iterative-rag/llm"
)

const (
	refineTemperature = 0.5
	refineMaxTokens   = 80
)

// Refiner proposes a new intent and search description after an insufficient round.
type Refiner struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *log.Logger
}

// NewRefiner builds a refiner. A zero Timeout leaves the call unbounded.
func NewRefiner(client llm.Client, opts Options) *Refiner {
	return &Refiner{client: client, model: opts.Model, timeout: opts.Timeout, logger: opts.logger()}
}

// Refine returns empty fields on failure; a field the model omitted is also empty.
func (r *Refiner) Refine(ctx context.Context, question string, materials []string, model string) Refinement {
	return WithFallback(r.logger, "refiner", Refinement{}, func() (Refinement, error) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		raw, err := r.client.Generate(ctx, llm.Request{
			Model:  pick(model, r.model),
			Prompt: refinePrompt(question, materials),
			Options: llm.Options{
				Temperature: refineTemperature,
				MaxTokens:   refineMaxTokens,
			},
		})
		if err != nil {
			return Refinement{}, fmt.Errorf("generate refinement: %w", err)
		}

		parsed := ParseRefinement(raw)
		if !parsed.HasIntent && !parsed.HasDescription {
			r.logger.Printf("refiner response had neither field")
		}
		return parsed.Refinement, nil
	})
}
