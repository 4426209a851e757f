package main

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/iterative-rag/api"
	"github.com/fabfab/iterative-rag/config"
	"github.com/fabfab/iterative-rag/database"
	"github.com/fabfab/iterative-rag/embeddings"
	"github.com/fabfab/iterative-rag/knowledge"
	"github.com/fabfab/iterative-rag/llm"
	"github.com/fabfab/iterative-rag/pipeline"
	"github.com/fabfab/iterative-rag/reasoning"
	"github.com/fabfab/iterative-rag/retrieval"
)

// app holds the wired components for one process.
type app struct {
	ranker   *retrieval.Ranker
	service  *pipeline.Service
	clearers map[string]api.Clearer
	runs     api.RunLoader
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type recorderStore interface {
	pipeline.Recorder
	api.RunLoader
	api.Clearer
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{clearers: map[string]api.Clearer{}}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	cache, err := a.openCache(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ranker, err = retrieval.NewRanker(embedder, retrieval.Options{
		BatchSize:   cfg.Embeddings.BatchSize,
		BlockLength: cfg.Loop.BlockLength,
		Metric:      cfg.Loop.Metric,
		Cache:       cache,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ranker setup: %w", err)
	}

	recorder, err := a.openRecorder(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	components := pipeline.Components{
		Decomposer: reasoning.NewDecomposer(llmClient, reasoning.Options{Model: cfg.LLM.Model, Timeout: cfg.Loop.DecomposeTimeout, Logger: logger}),
		Retriever:  a.ranker,
		Judge:      reasoning.NewJudge(llmClient, reasoning.Options{Model: cfg.LLM.Model, Timeout: cfg.Loop.JudgeTimeout, Logger: logger}),
		Refiner:    reasoning.NewRefiner(llmClient, reasoning.Options{Model: cfg.LLM.Model, Logger: logger}),
		LLM:        llmClient,
	}
	if recorder != nil {
		components.Recorder = recorder
		a.runs = recorder
		a.clearers["traces"] = recorder
	}

	a.service, err = pipeline.NewService(components, pipeline.Config{
		MaxRounds: cfg.Loop.MaxRounds,
		TopK:      cfg.Loop.TopK,
		Model:     cfg.LLM.Model,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pipeline setup: %w", err)
	}

	logger.Printf("using %s/%s for generation and %s for embeddings", cfg.LLM.Provider, cfg.LLM.Model, embedder.Name())
	return a, nil
}

func (a *app) openCache(ctx context.Context, cfg config.Config, logger *log.Logger) (retrieval.EmbeddingCache, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		cache := retrieval.NewMemoryCache()
		a.clearers["cache"] = cache
		return cache, nil
	case config.BackendPostgres:
		pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.closers = append(a.closers, pgPool.Close)

		if err := database.EnsureCacheSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
			return nil, fmt.Errorf("prepare cache schema: %w", err)
		}
		logger.Println("caching chunk embeddings in Postgres")
		cache := retrieval.NewPostgresCache(pgPool)
		a.clearers["cache"] = cache
		return cache, nil
	default:
		return nil, nil
	}
}

func (a *app) openRecorder(ctx context.Context, cfg config.Config, logger *log.Logger) (recorderStore, error) {
	switch cfg.Trace.Backend {
	case config.BackendNeo4j:
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
		logger.Println("recording runs in Neo4j")
		return knowledge.NewNeo4jRecorder(driver), nil
	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.Trace.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite connection: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		recorder, err := knowledge.NewSQLiteRecorder(db)
		if err != nil {
			return nil, fmt.Errorf("sqlite recorder: %w", err)
		}
		logger.Printf("recording runs in %s", cfg.Trace.SQLitePath)
		return recorder, nil
	default:
		return nil, nil
	}
}
