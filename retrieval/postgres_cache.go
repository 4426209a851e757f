package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresCache keeps chunk embeddings in the rag_chunk_embeddings table.
// The table is created by database.EnsureCacheSchema.
type PostgresCache struct {
	pool *pgxpool.Pool
}

func NewPostgresCache(pool *pgxpool.Pool) *PostgresCache {
	return &PostgresCache{pool: pool}
}

func (c *PostgresCache) Get(ctx context.Context, key CacheKey) ([][]float32, bool, error) {
	if c.pool == nil {
		return nil, false, fmt.Errorf("postgres pool is nil")
	}

	rows, err := c.pool.Query(ctx, `
		SELECT chunk_index, embedding
		FROM rag_chunk_embeddings
		WHERE cache_key = $1
		ORDER BY chunk_index
	`, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("query cached embeddings: %w", err)
	}
	defer rows.Close()

	vectors := make([][]float32, 0)
	for rows.Next() {
		var (
			index int
			vec   pgvector.Vector
		)
		if scanErr := rows.Scan(&index, &vec); scanErr != nil {
			return nil, false, fmt.Errorf("scan cached embedding: %w", scanErr)
		}
		if index != len(vectors) {
			return nil, false, fmt.Errorf("cached embeddings for %s have a gap at index %d", key.DocumentID, len(vectors))
		}
		vectors = append(vectors, vec.Slice())
	}
	if rows.Err() != nil {
		return nil, false, rows.Err()
	}

	if len(vectors) == 0 {
		return nil, false, nil
	}
	return vectors, true, nil
}

func (c *PostgresCache) Put(ctx context.Context, key CacheKey, chunks []string, vectors [][]float32) (err error) {
	if c.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunk_embeddings WHERE cache_key = $1", key.String()); err != nil {
		return fmt.Errorf("clear cached embeddings: %w", err)
	}

	batch := &pgx.Batch{}
	for idx, text := range chunks {
		batch.Queue(`
			INSERT INTO rag_chunk_embeddings (cache_key, document_id, embedder, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, key.String(), key.DocumentID, key.Embedder, idx, text, pgvector.NewVector(vectors[idx]))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert cached embeddings: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (c *PostgresCache) Clear(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := c.pool.Exec(ctx, "TRUNCATE rag_chunk_embeddings"); err != nil {
		return fmt.Errorf("truncate cached embeddings: %w", err)
	}
	return nil
}

var _ EmbeddingCache = (*PostgresCache)(nil)
