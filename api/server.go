package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fabfab/iterative-rag/ingestion"
	"github.com/fabfab/iterative-rag/knowledge"
	"github.com/fabfab/iterative-rag/pipeline"
)

const defaultRunLimit = 10

//go:embed openapi.yaml
var openAPISpecYAML []byte

// Answerer runs the retrieval loop for one question.
type Answerer interface {
	Run(ctx context.Context, question string, doc ingestion.Document, model string) pipeline.Result
}

// Clearer removes stored state. Caches and recorders both satisfy it.
type Clearer interface {
	Clear(ctx context.Context) error
}

// RunLoader fetches a recorded run by id.
type RunLoader interface {
	LoadRun(ctx context.Context, runID string) (pipeline.Result, error)
}

// RunLister lists recent run ids, newest first.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]string, error)
}

// Options configures a Server. Clearers and Runs are optional.
type Options struct {
	Answerer Answerer
	Clearers map[string]Clearer
	Runs     RunLoader
	Logger   *log.Logger
}

// Server exposes HTTP handlers for answering questions over a supplied document.
type Server struct {
	answerer Answerer
	clearers map[string]Clearer
	runs     RunLoader
	logger   *log.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type runListResponse struct {
	Runs []string `json:"runs"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type answerRequest struct {
	Question string             `json:"question"`
	Document ingestion.Document `json:"document"`
	Model    string             `json:"model"`
}

type answerResponse struct {
	RunID      string           `json:"runId"`
	Question   string           `json:"question"`
	DocumentID string           `json:"documentId,omitempty"`
	Model      string           `json:"model,omitempty"`
	Answer     string           `json:"answer"`
	Error      string           `json:"error,omitempty"`
	Rounds     []pipeline.Round `json:"rounds"`
	DurationMS int64            `json:"durationMs"`
}

// New constructs a Server. It fails when no Answerer is supplied.
func New(opts Options) (*Server, error) {
	if opts.Answerer == nil {
		return nil, fmt.Errorf("answerer is not configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		answerer: opts.Answerer,
		clearers: opts.Clearers,
		runs:     opts.Runs,
		logger:   logger,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/answer", s.handleAnswer)
	mux.HandleFunc("/v1/runs/", s.handleRun)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.Document.ParagraphCount() == 0 {
		s.logger.Printf("answering %q against an empty document", req.Question)
	}

	result := s.answerer.Run(r.Context(), req.Question, req.Document, strings.TrimSpace(req.Model))
	s.writeJSON(w, http.StatusOK, toAnswerResponse(result))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("run tracing is not enabled"))
		return
	}

	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if runID == "" {
		s.listRuns(w, r)
		return
	}

	result, err := s.runs.LoadRun(r.Context(), runID)
	if errors.Is(err, knowledge.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", runID))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load run: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, toAnswerResponse(result))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.runs.(RunLister)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("run id is required"))
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	ids, err := lister.RecentRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list runs: %w", err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, runListResponse{Runs: ids})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	ctx := r.Context()
	for name, clearer := range s.clearers {
		if clearer == nil {
			continue
		}
		if err := clearer.Clear(ctx); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear %s: %w", name, err))
			return
		}
		s.logger.Printf("cleared %s", name)
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "rag data cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func toAnswerResponse(result pipeline.Result) answerResponse {
	rounds := result.Trace
	if rounds == nil {
		rounds = []pipeline.Round{}
	}

	resp := answerResponse{
		RunID:      result.RunID,
		Question:   result.Question,
		DocumentID: result.DocumentID,
		Model:      result.Model,
		Answer:     result.Answer,
		Rounds:     rounds,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	if !result.StartedAt.IsZero() && !result.FinishedAt.IsZero() {
		resp.DurationMS = result.FinishedAt.Sub(result.StartedAt).Milliseconds()
	}
	return resp
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	}
}
