package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
)

// CacheKey identifies one document's chunk set encoded by one embedder.
type CacheKey struct {
	DocumentID string
	ChunkHash  string
	Embedder   string
}

func (k CacheKey) String() string {
	return k.Embedder + "|" + k.DocumentID + "|" + k.ChunkHash
}

// EmbeddingCache stores chunk embeddings between retrieval calls.
type EmbeddingCache interface {
	Get(ctx context.Context, key CacheKey) ([][]float32, bool, error)
	Put(ctx context.Context, key CacheKey, chunks []string, vectors [][]float32) error
	Clear(ctx context.Context) error
}

// HashChunks returns a hex SHA-256 over the ordered chunk texts.
func HashChunks(chunks []string) string {
	h := sha256.New()
	var size [8]byte
	for _, chunk := range chunks {
		binary.BigEndian.PutUint64(size[:], uint64(len(chunk)))
		h.Write(size[:])
		h.Write([]byte(chunk))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a process-local EmbeddingCache safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey][][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey][][]float32)}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([][]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vectors, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneVectors(vectors), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key CacheKey, _ []string, vectors [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cloneVectors(vectors)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[CacheKey][][]float32)
	return nil
}

// Len reports the number of cached chunk sets.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneVectors(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		out[i] = append([]float32(nil), vec...)
	}
	return out
}

var _ EmbeddingCache = (*MemoryCache)(nil)
