// Package retrieval ranks a document's context windows against a query by embedding similarity.
package retrieval

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/iterative-rag/embeddings"
	"github.com/fabfab/iterative-rag/ingestion"
)

const (
	defaultBatchSize = 8
	defaultTopK      = 5
)

// Passage is one ranked context window.
type Passage struct {
	Index int
	Text  string
	Score float32
}

type Options struct {
	// BatchSize is the number of chunks encoded per embedder call.
	BatchSize   int
	BlockLength int
	Metric      string
	// Cache is optional; nil re-encodes the chunks on every call.
	Cache  EmbeddingCache
	Logger *log.Logger
}

// Ranker scores a document's chunks against a query with one embedder.
type Ranker struct {
	embedder    embeddings.Embedder
	batchSize   int
	blockLength int
	score       scoreFunc
	cache       EmbeddingCache
	logger      *log.Logger
}

func NewRanker(embedder embeddings.Embedder, opts Options) (*Ranker, error) {
	score, err := scorerFor(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BlockLength <= 0 {
		opts.BlockLength = ingestion.DefaultBlockLength
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Ranker{
		embedder:    embedder,
		batchSize:   opts.BatchSize,
		blockLength: opts.BlockLength,
		score:       score,
		cache:       opts.Cache,
		logger:      opts.Logger,
	}, nil
}

// Retrieve returns the texts of the k chunks of doc most similar to query,
// best first. Any embedding failure yields an empty result.
func (r *Ranker) Retrieve(ctx context.Context, query string, doc ingestion.Document, k int) []string {
	passages, err := r.Rank(ctx, query, doc, k)
	if err != nil {
		r.logger.Printf("retrieval failed doc=%s: %v", doc.ID, err)
		return []string{}
	}

	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Text
	}
	return texts
}

// Rank scores every chunk of doc against query and returns the top k with scores.
func (r *Ranker) Rank(ctx context.Context, query string, doc ingestion.Document, k int) ([]Passage, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	if k <= 0 {
		k = defaultTopK
	}

	chunks := ingestion.ContextBlocks(doc, r.blockLength)
	if len(chunks) == 0 {
		return []Passage{}, nil
	}

	chunkVectors, err := r.chunkEmbeddings(ctx, doc.ID, chunks)
	if err != nil {
		return nil, err
	}

	queryVectors, err := embeddings.EmbedBatched(ctx, r.embedder, []string{query}, 1)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec := queryVectors[0]

	scores := make([]float32, len(chunks))
	for i, vec := range chunkVectors {
		if len(vec) != len(queryVec) {
			return nil, fmt.Errorf("embedding dimension mismatch: chunk %d has %d, query has %d", i, len(vec), len(queryVec))
		}
		scores[i] = r.score(vec, queryVec)
	}

	indices := topK(scores, k)
	passages := make([]Passage, len(indices))
	for i, idx := range indices {
		passages[i] = Passage{Index: idx, Text: chunks[idx], Score: scores[idx]}
	}
	return passages, nil
}

func (r *Ranker) chunkEmbeddings(ctx context.Context, docID string, chunks []string) ([][]float32, error) {
	if r.cache == nil {
		return r.encodeChunks(ctx, chunks)
	}

	key := CacheKey{DocumentID: docID, ChunkHash: HashChunks(chunks), Embedder: r.embedder.Name()}
	cached, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Printf("embedding cache lookup failed doc=%s: %v", docID, err)
	}
	if ok && len(cached) == len(chunks) {
		return cached, nil
	}

	vectors, err := r.encodeChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Put(ctx, key, chunks, vectors); err != nil {
		r.logger.Printf("embedding cache store failed doc=%s: %v", docID, err)
	}
	return vectors, nil
}

func (r *Ranker) encodeChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors, err := embeddings.EmbedBatched(ctx, r.embedder, chunks, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	return vectors, nil
}
