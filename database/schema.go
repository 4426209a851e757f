package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// cacheSchemaStatements returns the DDL for the chunk embedding cache.
func cacheSchemaStatements(dimension int) ([]string, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}

	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunk_embeddings (
			cache_key TEXT NOT NULL,
			document_id TEXT NOT NULL,
			embedder TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (cache_key, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunk_embeddings_document ON rag_chunk_embeddings(document_id)",
	}, nil
}

// EnsureCacheSchema creates the pgvector extension and the embedding cache table.
func EnsureCacheSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	stmts, err := cacheSchemaStatements(dimension)
	if err != nil {
		return err
	}
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
