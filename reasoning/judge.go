package reasoning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fabfab/iterative-rag/llm"
)

const (
	judgeTemperature    = 0.2
	judgeMaxTokens      = 80
	defaultJudgeTimeout = 200 * time.Second
)

// Judge decides whether retrieved passages satisfy an intent.
type Judge struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *log.Logger
}

func NewJudge(client llm.Client, opts Options) *Judge {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultJudgeTimeout
	}
	return &Judge{client: client, model: opts.Model, timeout: opts.Timeout, logger: opts.logger()}
}

// IsSufficient fails closed: errors, timeouts and unreadable answers all give false.
func (j *Judge) IsSufficient(ctx context.Context, intent string, passages []string, model string) bool {
	return WithFallback(j.logger, "judge", false, func() (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		raw, err := j.client.Generate(ctx, llm.Request{
			Model:  pick(model, j.model),
			Prompt: judgePrompt(intent, passages),
			Format: llm.FormatJSON,
			Options: llm.Options{
				Temperature: judgeTemperature,
				MaxTokens:   judgeMaxTokens,
			},
		})
		if err != nil {
			return false, fmt.Errorf("generate verdict: %w", err)
		}

		verdict := ParseVerdict(raw)
		if verdict.Source == VerdictNone {
			return false, fmt.Errorf("%w: no verdict in response", ErrMalformed)
		}
		j.logger.Printf("judge verdict sufficient=%t source=%s", verdict.Sufficient, verdict.Source)
		return verdict.Sufficient, nil
	})
}
