package api

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

	"github.com/fabfab/iterative-rag/ingestion"
	"github.com/fabfab/iterative-rag/knowledge"
	"github.com/fabfab/iterative-rag/pipeline"
)

type stubAnswerer struct {
	question string
	doc      ingestion.Document
	model    string
	result   pipeline.Result
}

func (s *stubAnswerer) Run(_ context.Context, question string, doc ingestion.Document, model string) pipeline.Result {
	s.question = question
	s.doc = doc
	s.model = model
	return s.result
}

type stubClearer struct {
	calls int
	err   error
}

func (s *stubClearer) Clear(context.Context) error {
	s.calls++
	return s.err
}

type stubRuns map[string]pipeline.Result

func (s stubRuns) LoadRun(_ context.Context, runID string) (pipeline.Result, error) {
	result, ok := s[runID]
	if !ok {
		return pipeline.Result{}, fmt.Errorf("%w: %s", knowledge.ErrRunNotFound, runID)
	}
	return result, nil
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestNewRequiresAnswerer(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without answerer")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body messageResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "ok" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("expected 405 with Allow header, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/v1/answer") {
		t.Fatal("openapi document should describe /v1/answer")
	}
}

func TestAnswer(t *testing.T) {
	answerer := &stubAnswerer{result: pipeline.Result{
		RunID:  "run-1",
		Answer: "Robert Zemeckis",
		Trace: []pipeline.Round{
			{Iteration: 1, Intent: "find the director", Query: "director forrest gump", Passages: []string{"Forrest Gump: directed by Robert Zemeckis"}, Sufficient: true},
		},
	}}
	srv := newTestServer(t, Options{Answerer: answerer})

	body := `{"question":"  Who directed Forrest Gump?  ","model":"llama3","document":{"id":"doc-1","sections":[{"title":"Forrest Gump","paragraphs":["Directed by Robert Zemeckis."]}]}}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if answerer.question != "Who directed Forrest Gump?" {
		t.Fatalf("question not trimmed: %q", answerer.question)
	}
	if answerer.model != "llama3" || answerer.doc.ID != "doc-1" || answerer.doc.ParagraphCount() != 1 {
		t.Fatalf("request not forwarded: model=%q doc=%+v", answerer.model, answerer.doc)
	}

	var resp answerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-1" || resp.Answer != "Robert Zemeckis" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Rounds) != 1 || !resp.Rounds[0].Sufficient || resp.Rounds[0].Query != "director forrest gump" {
		t.Fatalf("unexpected rounds: %+v", resp.Rounds)
	}
}

func TestAnswerReportsSynthesisError(t *testing.T) {
	answerer := &stubAnswerer{result: pipeline.Result{
		Answer: "Error: connection refused",
		Err:    errors.New("connection refused"),
	}}
	srv := newTestServer(t, Options{Answerer: answerer})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q","document":{"id":"d"}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp answerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "connection refused" || !strings.HasPrefix(resp.Answer, pipeline.ErrorPrefix) {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Rounds == nil {
		t.Fatal("rounds should encode as an empty list")
	}
}

func TestAnswerValidation(t *testing.T) {
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}})

	cases := map[string]string{
		"empty question": `{"question":"   ","document":{"id":"d"}}`,
		"unknown field":  `{"question":"q","bogus":true}`,
		"two objects":    `{"question":"q"}{"question":"r"}`,
		"not json":       `question=q`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestClear(t *testing.T) {
	cache := &stubClearer{}
	traces := &stubClearer{}
	srv := newTestServer(t, Options{
		Answerer: &stubAnswerer{},
		Clearers: map[string]Clearer{"cache": cache, "traces": traces},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(`{"confirm":false}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm, got %d", rec.Code)
	}
	if cache.calls != 0 || traces.calls != 0 {
		t.Fatal("nothing should be cleared without confirm")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(`{"confirm":true}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cache.calls != 1 || traces.calls != 1 {
		t.Fatalf("expected each clearer called once, got %d and %d", cache.calls, traces.calls)
	}
}

func TestClearFailure(t *testing.T) {
	srv := newTestServer(t, Options{
		Answerer: &stubAnswerer{},
		Clearers: map[string]Clearer{"cache": &stubClearer{err: errors.New("boom")}},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(`{"confirm":true}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRunLookup(t *testing.T) {
	runs := stubRuns{"run-7": {RunID: "run-7", Answer: "Tom Hanks"}}
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}, Runs: runs})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp answerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Tom Hanks" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunLookupDisabled(t *testing.T) {
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when tracing is disabled, got %d", rec.Code)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler(), log.New(io.Discard, "", 0))
	}()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

type listingRuns struct {
	stubRuns
	limit int
}

func (l *listingRuns) RecentRuns(_ context.Context, limit int) ([]string, error) {
	l.limit = limit
	return []string{"run-2", "run-1"}, nil
}

func TestRunListing(t *testing.T) {
	runs := &listingRuns{stubRuns: stubRuns{}}
	srv := newTestServer(t, Options{Answerer: &stubAnswerer{}, Runs: runs})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp runListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if runs.limit != 2 || len(resp.Runs) != 2 || resp.Runs[0] != "run-2" {
		t.Fatalf("unexpected listing: limit=%d runs=%v", runs.limit, resp.Runs)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}
