package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/iterative-rag/embeddings"
	"github.com/fabfab/iterative-rag/ingestion"
	"github.com/fabfab/iterative-rag/llm"
	"github.com/fabfab/iterative-rag/reasoning"
	"github.com/fabfab/iterative-rag/retrieval"
)

type stubDecomposer struct {
	analysis reasoning.Analysis
}

func (s *stubDecomposer) Decompose(_ context.Context, question, _ string) reasoning.Analysis {
	if s.analysis == (reasoning.Analysis{}) {
		return reasoning.Analysis{Query: question}
	}
	return s.analysis
}

type stubRetriever struct {
	passages []string
	queries  []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ ingestion.Document, _ int) []string {
	s.queries = append(s.queries, query)
	return s.passages
}

type funcJudge func(intent string, passages []string) bool

func (f funcJudge) IsSufficient(_ context.Context, intent string, passages []string, _ string) bool {
	return f(intent, passages)
}

type stubRefiner struct {
	calls int
}

func (s *stubRefiner) Refine(_ context.Context, _ string, _ []string, _ string) reasoning.Refinement {
	s.calls++
	return reasoning.Refinement{Intent: "refined intent", Description: "refined query"}
}

type stubLLM struct {
	answer string
	err    error
	prompt string
	req    llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.req = req
	s.prompt = req.Prompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type stubRecorder struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (s *stubRecorder) RecordRun(_ context.Context, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

var (
	_ Decomposer = (*stubDecomposer)(nil)
	_ Retriever  = (*stubRetriever)(nil)
	_ Judge      = funcJudge(nil)
	_ Refiner    = (*stubRefiner)(nil)
	_ llm.Client = (*stubLLM)(nil)
	_ Recorder   = (*stubRecorder)(nil)
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newService(t *testing.T, components Components) *Service {
	t.Helper()
	if components.Decomposer == nil {
		components.Decomposer = &stubDecomposer{}
	}
	if components.Retriever == nil {
		components.Retriever = &stubRetriever{passages: []string{"p1"}}
	}
	if components.Refiner == nil {
		components.Refiner = &stubRefiner{}
	}
	if components.LLM == nil {
		components.LLM = &stubLLM{answer: "answer"}
	}
	svc, err := NewService(components, Config{Model: "llama2:13b"}, quietLogger())
	require.NoError(t, err)
	return svc
}

func TestRunStopsAtRoundCeiling(t *testing.T) {
	refiner := &stubRefiner{}
	retriever := &stubRetriever{passages: []string{"nothing useful"}}
	svc := newService(t, Components{
		Retriever: retriever,
		Judge:     funcJudge(func(string, []string) bool { return false }),
		Refiner:   refiner,
	})

	result := svc.Run(context.Background(), "question", ingestion.Document{}, "")

	require.Len(t, result.Trace, 3)
	assert.Equal(t, 2, refiner.calls, "no refinement after the last round")
	assert.Equal(t, []string{"question", "refined query", "refined query"}, retriever.queries)
	for i, round := range result.Trace {
		assert.Equal(t, i+1, round.Iteration)
	}
	assert.Equal(t, "refined intent", result.Trace[1].Intent)
	assert.Equal(t, "answer", result.Answer)
	assert.NoError(t, result.Err)
}

func TestRunStopsEarlyWhenSufficient(t *testing.T) {
	refiner := &stubRefiner{}
	svc := newService(t, Components{
		Judge:   funcJudge(func(string, []string) bool { return true }),
		Refiner: refiner,
	})

	result := svc.Run(context.Background(), "question", ingestion.Document{}, "")

	require.Len(t, result.Trace, 1)
	assert.True(t, result.Trace[0].Sufficient)
	assert.Zero(t, refiner.calls)
}

func TestRunRespectsConfiguredRounds(t *testing.T) {
	svc, err := NewService(Components{
		Decomposer: &stubDecomposer{},
		Retriever:  &stubRetriever{},
		Judge:      funcJudge(func(string, []string) bool { return false }),
		Refiner:    &stubRefiner{},
		LLM:        &stubLLM{},
	}, Config{MaxRounds: 5}, quietLogger())
	require.NoError(t, err)

	assert.Len(t, svc.Run(context.Background(), "q", ingestion.Document{}, "").Trace, 5)
}

func TestGenerateAnswerSynthesisFailure(t *testing.T) {
	svc := newService(t, Components{
		Judge: funcJudge(func(string, []string) bool { return true }),
		LLM:   &stubLLM{err: errors.New("connection refused")},
	})

	answer := svc.GenerateAnswer(context.Background(), "question", ingestion.Document{}, "")
	assert.Equal(t, "Error:connection refused", answer)

	result := svc.Run(context.Background(), "question", ingestion.Document{}, "")
	assert.Error(t, result.Err)
	assert.True(t, strings.HasPrefix(result.Answer, ErrorPrefix))
}

func TestRunSynthesisRequest(t *testing.T) {
	client := &stubLLM{answer: "  Robert Zemeckis\n"}
	svc := newService(t, Components{
		Decomposer: &stubDecomposer{analysis: reasoning.Analysis{Intent: "find the director", Query: "film director"}},
		Retriever:  &stubRetriever{passages: []string{"a", "b"}},
		Judge:      funcJudge(func(string, []string) bool { return true }),
		LLM:        client,
	})

	answer := svc.GenerateAnswer(context.Background(), "Who?", ingestion.Document{}, "mistral")

	assert.Equal(t, "  Robert Zemeckis\n", answer, "the raw response is returned untrimmed")
	assert.Equal(t, "mistral", client.req.Model)
	assert.Equal(t, float32(0), client.req.Options.Temperature)
	assert.Equal(t, "Original question:Who?\n\nAnalysis process:\n\nstep 1:\n- intent:find the director\n- retrieve passages:a, b...\n\n"+synthesisInstruction, client.prompt)
}

func TestRunCancelledContextStopsRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	refiner := &stubRefiner{}
	svc := newService(t, Components{
		Judge: funcJudge(func(string, []string) bool {
			cancel()
			return false
		}),
		Refiner: refiner,
	})

	result := svc.Run(ctx, "question", ingestion.Document{}, "")
	require.Len(t, result.Trace, 1)
	assert.Equal(t, 1, refiner.calls)
}

func TestRunRecordsResult(t *testing.T) {
	recorder := &stubRecorder{err: errors.New("disk full")}
	svc := newService(t, Components{
		Judge:    funcJudge(func(string, []string) bool { return true }),
		Recorder: recorder,
	})

	result := svc.Run(context.Background(), "question", ingestion.Document{ID: "doc-1"}, "")

	assert.Equal(t, "answer", result.Answer, "recorder failure does not change the answer")
	require.Len(t, recorder.results, 1)
	assert.Equal(t, result.RunID, recorder.results[0].RunID)
	assert.Equal(t, "doc-1", recorder.results[0].DocumentID)
	assert.NotEmpty(t, result.RunID)
}

func TestNewServiceRequiresComponents(t *testing.T) {
	_, err := NewService(Components{}, Config{}, quietLogger())
	assert.Error(t, err)
}

func TestTraceRoundsAreCopies(t *testing.T) {
	passages := []string{"x"}
	var trace Trace
	trace.Append(Round{Iteration: 1, Passages: passages})
	passages[0] = "mutated"

	rounds := trace.Rounds()
	rounds[0].Passages[0] = "changed"

	assert.Equal(t, 1, trace.Len())
	assert.Equal(t, "x", trace.Rounds()[0].Passages[0])
}

func TestTraceKeepsEmptyPassagesNonNil(t *testing.T) {
	var trace Trace
	trace.Append(Round{Iteration: 1, Intent: "i", Query: "q"})
	trace.Append(Round{Iteration: 2, Intent: "i", Query: "q", Passages: []string{}})

	for _, round := range trace.Rounds() {
		require.NotNil(t, round.Passages)
		encoded, err := json.Marshal(round)
		require.NoError(t, err)
		assert.Contains(t, string(encoded), `"passages":[]`)
	}
}

func TestRunEmptyDocumentRecordsEmptyPassages(t *testing.T) {
	embedder := embeddings.NewLocalEmbedder(nil, 32)
	ranker, err := retrieval.NewRanker(embedder, retrieval.Options{Logger: quietLogger()})
	require.NoError(t, err)

	svc := newService(t, Components{
		Retriever: ranker,
		Judge:     funcJudge(func(string, []string) bool { return false }),
	})
	result := svc.Run(context.Background(), "who?", ingestion.Document{ID: "empty"}, "")

	require.Len(t, result.Trace, 3)
	for _, round := range result.Trace {
		assert.NotNil(t, round.Passages)
		assert.Empty(t, round.Passages)
	}
}

func TestGenerateAnswerForrestGump(t *testing.T) {
	doc := ingestion.Document{
		ID: "hotpot-1",
		Sections: []ingestion.Section{
			{Title: "Forrest Gump", Paragraphs: []string{
				"Forrest Gump is a 1994 American comedy-drama film directed by Robert Zemeckis.",
				"The film is known for the line 'Life is like a box of chocolates'.",
			}},
			{Title: "Tom Hanks", Paragraphs: []string{"Thomas Jeffrey Hanks is an American actor and filmmaker."}},
			{Title: "Paris", Paragraphs: []string{"Paris is the capital and most populous city of France."}},
		},
	}

	ranker, err := retrieval.NewRanker(embeddings.NewLocalEmbedder(nil, 128), retrieval.Options{Logger: quietLogger()})
	require.NoError(t, err)

	refiner := &stubRefiner{}
	client := &stubLLM{answer: "Robert Zemeckis"}
	svc := newService(t, Components{
		Decomposer: &stubDecomposer{analysis: reasoning.Analysis{Intent: "Identify the director", Query: "box of chocolates film director"}},
		Retriever:  ranker,
		Judge: funcJudge(func(_ string, passages []string) bool {
			for _, p := range passages {
				if strings.Contains(p, "directed by") {
					return true
				}
			}
			return false
		}),
		Refiner: refiner,
		LLM:     client,
	})

	question := "Who directed the 1994 film with the quote 'Life is like a box of chocolates'?"
	result := svc.Run(context.Background(), question, doc, "")

	require.Len(t, result.Trace, 1)
	assert.Zero(t, refiner.calls)
	assert.Contains(t, result.Trace[0].Passages, "Forrest Gump: Forrest Gump is a 1994 American comedy-drama film directed by Robert Zemeckis.")
	assert.Regexp(t, regexp.MustCompile(`Forrest Gump: .*directed by Robert Zemeckis`), client.prompt)
	assert.Equal(t, "robert zemeckis", strings.ToLower(strings.TrimSpace(result.Answer)))
}
