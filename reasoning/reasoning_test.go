package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/iterative-rag/llm"
)

type stubLLM struct {
	response string
	err      error
	panicMsg string
	wait     bool

	requests []llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

var _ llm.Client = (*stubLLM)(nil)

func quietOptions() Options {
	return Options{Model: "llama2:13b", Logger: log.New(io.Discard, "", 0)}
}

const question = "Who directed the 1994 film with the quote 'Life is like a box of chocolates'?"

func TestDecomposeParsesFields(t *testing.T) {
	client := &stubLLM{response: "Intent: Identify the director of the film.\nQuery: box of chocolates film director\n"}
	got := NewDecomposer(client, quietOptions()).Decompose(context.Background(), question, "")

	assert.Equal(t, Analysis{Intent: "Identify the director of the film", Query: "box of chocolates film director"}, got)
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "llama2:13b", req.Model)
	assert.InDelta(t, 0.1, req.Options.Temperature, 1e-6)
	assert.Equal(t, 80, req.Options.MaxTokens)
	assert.Contains(t, req.Prompt, `Now analyze: "`+question+`"`)
}

func TestDecomposeFallbackOnMissingField(t *testing.T) {
	client := &stubLLM{response: "The user wants to know who directed Forrest Gump."}
	got := NewDecomposer(client, quietOptions()).Decompose(context.Background(), question, "")
	assert.Equal(t, Analysis{Intent: "", Query: question}, got)
}

func TestDecomposeFallbackOnTransportError(t *testing.T) {
	client := &stubLLM{err: errors.New("connection refused")}
	got := NewDecomposer(client, quietOptions()).Decompose(context.Background(), question, "mistral")
	assert.Equal(t, Analysis{Query: question}, got)
	assert.Equal(t, "mistral", client.requests[0].Model)
}

func TestDecomposeShortQueryUsesQuestion(t *testing.T) {
	client := &stubLLM{response: "Intent: Find the director\nQuery: 1994 film"}
	got := NewDecomposer(client, quietOptions()).Decompose(context.Background(), question, "")
	assert.Equal(t, "Find the director", got.Intent)
	assert.Equal(t, question, got.Query, "a query truncated to 0 characters is unusable")
}

func TestDecomposeHonoursTimeout(t *testing.T) {
	opts := quietOptions()
	opts.Timeout = 10 * time.Millisecond
	got := NewDecomposer(&stubLLM{wait: true}, opts).Decompose(context.Background(), question, "")
	assert.Equal(t, Analysis{Query: question}, got)
}

func TestParseAnalysisCleansFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Analysis
		ok   bool
	}{
		{
			name: "explanation after field",
			raw:  "Intent: Identify the director (of the film)\nQuery: film director, Forrest Gump: 1994",
			want: Analysis{Intent: "Identify the director", Query: "film director, Forrest Gump"},
			ok:   true,
		},
		{
			name: "paragraph break ends intent",
			raw:  "Intent: Find the film's director\n\nQuery: Forrest Gump director",
			want: Analysis{Intent: "Find the film", Query: "Forrest Gump director"},
			ok:   true,
		},
		{
			name: "hyphens kept",
			raw:  "Intent: Locate well-known quotes\nQuery: well-known quotes",
			want: Analysis{Intent: "Locate well-known quotes", Query: "well-known quotes"},
			ok:   true,
		},
		{
			name: "query only",
			raw:  "Query: something useful",
			want: Analysis{Query: "q"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAnalysis(tc.raw, "q")
			assert.Equal(t, tc.ok, got.OK)
			assert.Equal(t, tc.want, got.Analysis)
		})
	}
}

func TestParseVerdictLayers(t *testing.T) {
	cases := []struct {
		raw    string
		want   bool
		source VerdictSource
	}{
		{`{"Final Answer": "YES"}`, true, VerdictPattern},
		{`{"final answer": 'no'}`, false, VerdictPattern},
		{"Reasoning...\nFinal Answer: YES", true, VerdictPattern},
		{"final answer: no, the documents are sufficient", false, VerdictPattern},
		{"Final Answer — YES", true, VerdictPattern},
		{"Final Answer - NO", false, VerdictPattern},
		{"```json\n{\"Final Answer\": \"YES\"}\n```", true, VerdictPattern},
		{"The retrieved information is sufficient.", true, VerdictKeyword},
		{"Key details are missing.", false, VerdictKeyword},
		{"Some parts are complete but others are missing.", false, VerdictKeyword},
		{"The documents are insufficient.", false, VerdictKeyword},
		{"I cannot tell.", false, VerdictNone},
		{"", false, VerdictNone},
	}

	for _, tc := range cases {
		got := ParseVerdict(tc.raw)
		assert.Equal(t, tc.want, got.Sufficient, tc.raw)
		assert.Equal(t, tc.source, got.Source, tc.raw)
	}
}

func TestParseVerdictMatchesWholeWordsOnly(t *testing.T) {
	// "know" and "nothing" must not count as "no"; "incomplete" is not "complete".
	assert.Equal(t, VerdictNone, ParseVerdict("I know nothing incomplete here").Source)
}

func TestJudgeRequestShape(t *testing.T) {
	client := &stubLLM{response: `{"Final Answer": "YES"}`}
	ok := NewJudge(client, quietOptions()).IsSufficient(context.Background(), "find the director", []string{"a", "b"}, "")

	assert.True(t, ok)
	req := client.requests[0]
	assert.Equal(t, llm.FormatJSON, req.Format)
	assert.InDelta(t, 0.2, req.Options.Temperature, 1e-6)
	assert.Empty(t, req.Options.Stop)
	assert.Contains(t, req.Prompt, "[User Intent Analysis]\nfind the director")
	assert.Contains(t, req.Prompt, "- a\n- b")
	assert.Contains(t, strings.ToLower(req.Prompt), "json", "json format needs the prompt to mention json")
}

func TestJudgeOverOpenAIRequestsJSONMode(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		var content string
		if messages, ok := body["messages"].([]any); ok && len(messages) > 0 {
			first, _ := messages[0].(map[string]any)
			content, _ = first["content"].(string)
		}
		if !strings.Contains(strings.ToLower(content), "json") {
			http.Error(w, `{"error":{"message":"messages must contain the word json"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": `{"Final Answer": "YES"}`}},
			},
		})
	}))
	defer server.Close()

	client := llm.NewOpenAIClient(llm.ClientOptions{OpenAIAPIKey: "test", OpenAIBaseURL: server.URL, Model: "gpt-4o-mini"})
	ok := NewJudge(client, quietOptions()).IsSufficient(context.Background(), "find the director", []string{"Robert Zemeckis directed it"}, "")

	assert.True(t, ok)
	format, _ := body["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestJudgeFailsClosed(t *testing.T) {
	cases := map[string]*stubLLM{
		"no verdict": {response: "The model rambled about films."},
		"transport":  {err: errors.New("503")},
		"panic":      {panicMsg: "boom"},
		"mixed":      {response: "sufficient in part, missing the rest"},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, NewJudge(client, quietOptions()).IsSufficient(context.Background(), "intent", nil, ""))
		})
	}
}

func TestJudgeTimeoutYieldsFalse(t *testing.T) {
	opts := quietOptions()
	opts.Timeout = 10 * time.Millisecond

	start := time.Now()
	ok := NewJudge(&stubLLM{wait: true}, opts).IsSufficient(context.Background(), "intent", []string{"p"}, "")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRefineParsesFields(t *testing.T) {
	client := &stubLLM{response: "Some analysis.\nNew Intent: Find who directed Forrest Gump\nNew Search Description: Forrest Gump director\nextra"}
	got := NewRefiner(client, quietOptions()).Refine(context.Background(), "find the film", []string{"first", "second"}, "")

	assert.Equal(t, Refinement{Intent: "Find who directed Forrest Gump", Description: "Forrest Gump director"}, got)
	req := client.requests[0]
	assert.InDelta(t, 0.5, req.Options.Temperature, 1e-6)
	assert.Contains(t, req.Prompt, "[Problem]: find the film")
	assert.Contains(t, req.Prompt, "1. first\n2. second")
}

func TestRefineMissingFieldIsEmpty(t *testing.T) {
	client := &stubLLM{response: "New Search Description: Robert Zemeckis films"}
	got := NewRefiner(client, quietOptions()).Refine(context.Background(), "q", nil, "")
	assert.Equal(t, Refinement{Description: "Robert Zemeckis films"}, got)
}

func TestRefineTransportErrorIsEmpty(t *testing.T) {
	got := NewRefiner(&stubLLM{err: errors.New("reset")}, quietOptions()).Refine(context.Background(), "q", []string{"x"}, "")
	assert.Equal(t, Refinement{}, got)
}

func TestWithFallbackLogsKind(t *testing.T) {
	var buf strings.Builder
	logger := log.New(&buf, "", 0)

	got := WithFallback(logger, "unit", 7, func() (int, error) {
		return 0, fmt.Errorf("%w: empty", ErrMalformed)
	})
	assert.Equal(t, 7, got)
	assert.Contains(t, buf.String(), "unit malformed failure")

	buf.Reset()
	got = WithFallback(logger, "unit", 7, func() (int, error) { return 0, errors.New("dial tcp") })
	assert.Equal(t, 7, got)
	assert.Contains(t, buf.String(), "unit transport failure")

	got = WithFallback(logger, "unit", 7, func() (int, error) { return 3, nil })
	assert.Equal(t, 3, got)
}

func TestWithFallbackRecoversPanic(t *testing.T) {
	got := WithFallback(log.New(io.Discard, "", 0), "unit", "safe", func() (string, error) {
		var m map[string]int
		m["x"]++
		return "unreachable", nil
	})
	assert.Equal(t, "safe", got)
}
