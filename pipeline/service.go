// Package pipeline runs the bounded decompose, retrieve, judge and refine loop
// for one question and synthesizes the final answer from its trace.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/iterative-rag/ingestion"
	"github.com/fabfab/iterative-rag/llm"
	"github.com/fabfab/iterative-rag/reasoning"
)

const (
	defaultMaxRounds = 3
	defaultTopK      = 5
	// ErrorPrefix starts the answer text returned when synthesis fails.
	ErrorPrefix = "Error:"
)

type Decomposer interface {
	Decompose(ctx context.Context, question, model string) reasoning.Analysis
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, doc ingestion.Document, k int) []string
}

type Judge interface {
	IsSufficient(ctx context.Context, intent string, passages []string, model string) bool
}

type Refiner interface {
	Refine(ctx context.Context, question string, materials []string, model string) reasoning.Refinement
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, result Result) error
}

// Components are the collaborators of a Service. Recorder may be nil.
type Components struct {
	Decomposer Decomposer
	Retriever  Retriever
	Judge      Judge
	Refiner    Refiner
	LLM        llm.Client
	Recorder   Recorder
}

type Config struct {
	MaxRounds int
	TopK      int
	// Model is used when a call does not name one.
	Model string
}

// Service holds no per-question state and may serve concurrent questions.
type Service struct {
	decomposer Decomposer
	retriever  Retriever
	judge      Judge
	refiner    Refiner
	llm        llm.Client
	recorder   Recorder
	cfg        Config
	logger     *log.Logger
}

func NewService(components Components, cfg Config, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch {
	case components.Decomposer == nil:
		return nil, fmt.Errorf("decomposer is not configured")
	case components.Retriever == nil:
		return nil, fmt.Errorf("retriever is not configured")
	case components.Judge == nil:
		return nil, fmt.Errorf("judge is not configured")
	case components.Refiner == nil:
		return nil, fmt.Errorf("refiner is not configured")
	case components.LLM == nil:
		return nil, fmt.Errorf("llm client is not configured")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}

	return &Service{
		decomposer: components.Decomposer,
		retriever:  components.Retriever,
		judge:      components.Judge,
		refiner:    components.Refiner,
		llm:        components.LLM,
		recorder:   components.Recorder,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// GenerateAnswer returns the model's answer to question, or an "Error:" string
// when the final synthesis call fails. It never returns an empty failure.
func (s *Service) GenerateAnswer(ctx context.Context, question string, doc ingestion.Document, model string) string {
	return s.Run(ctx, question, doc, model).Answer
}

// Run executes the loop and returns the answer with its trace.
func (s *Service) Run(ctx context.Context, question string, doc ingestion.Document, model string) Result {
	if model == "" {
		model = s.cfg.Model
	}
	result := Result{
		RunID:      uuid.NewString(),
		Question:   question,
		DocumentID: doc.ID,
		Model:      model,
		StartedAt:  time.Now().UTC(),
	}

	analysis := s.decomposer.Decompose(ctx, question, model)
	intent, query := analysis.Intent, analysis.Query

	var trace Trace
	for iteration := 1; iteration <= s.cfg.MaxRounds; iteration++ {
		if err := ctx.Err(); err != nil {
			s.logger.Printf("run=%s stopped before round %d: %v", result.RunID, iteration, err)
			break
		}

		passages := s.retriever.Retrieve(ctx, query, doc, s.cfg.TopK)
		sufficient := s.judge.IsSufficient(ctx, intent, passages, model)
		trace.Append(Round{
			Iteration:  iteration,
			Intent:     intent,
			Query:      query,
			Passages:   passages,
			Sufficient: sufficient,
		})
		s.logger.Printf("run=%s round=%d passages=%d sufficient=%t", result.RunID, iteration, len(passages), sufficient)

		if sufficient || iteration == s.cfg.MaxRounds {
			break
		}

		refined := s.refiner.Refine(ctx, intent, passages, model)
		intent, query = refined.Intent, refined.Description
	}

	result.Trace = trace.Rounds()
	answer, err := s.llm.Generate(ctx, llm.Request{
		Model:   model,
		Prompt:  BuildChainPrompt(question, result.Trace),
		Options: llm.Options{Temperature: 0},
	})
	if err != nil {
		result.Answer = ErrorPrefix + err.Error()
		result.Err = fmt.Errorf("synthesize answer: %w", err)
		s.logger.Printf("run=%s synthesis failed: %v", result.RunID, err)
	} else {
		result.Answer = answer
	}
	result.FinishedAt = time.Now().UTC()

	s.record(ctx, result)
	return result
}

func (s *Service) record(ctx context.Context, result Result) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRun(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Printf("run=%s record trace: %v", result.RunID, err)
	}
}
