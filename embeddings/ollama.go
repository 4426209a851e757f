package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaEmbedder sends each batch to Ollama's /api/embed endpoint as one request.
type ollamaEmbedder struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewOllamaEmbedder(opts Options) Embedder {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = defaultOllamaHost
	}

	return &ollamaEmbedder{
		endpoint:  host + "/api/embed",
		model:     opts.Model,
		dimension: opts.Dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ollamaEmbedder) Name() string {
	return "ollama/" + e.model
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload, err := e.post(ctx, ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	if len(payload.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings count mismatch: expected %d, got %d", len(texts), len(payload.Embeddings))
	}
	for i, vec := range payload.Embeddings {
		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("ollama embedding %d dimension mismatch: expected %d, got %d", i, e.dimension, len(vec))
		}
	}
	return payload.Embeddings, nil
}

func (e *ollamaEmbedder) post(ctx context.Context, body ollamaEmbedRequest) (ollamaEmbedResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return ollamaEmbedResponse{}, fmt.Errorf("marshal ollama embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return ollamaEmbedResponse{}, fmt.Errorf("create ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return ollamaEmbedResponse{}, fmt.Errorf("call ollama embed API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ollamaEmbedResponse{}, fmt.Errorf("ollama embed API returned status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var payload ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ollamaEmbedResponse{}, fmt.Errorf("decode ollama embed response: %w", err)
	}
	if payload.Error != "" {
		return ollamaEmbedResponse{}, fmt.Errorf("ollama embed error: %s", payload.Error)
	}
	return payload, nil
}
