// Package knowledge persists finished question runs so their rounds can be inspected later.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/iterative-rag/pipeline"
)

// ErrRunNotFound is returned when a run id has no recorded trace.
var ErrRunNotFound = errors.New("run not found")

// Neo4jRecorder stores each run as a graph:
// (Run)-[:ABOUT]->(Document), (Run)-[:HAS_ROUND]->(Round)-[:RETRIEVED]->(Passage).
// Passages are merged by content hash so a passage retrieved by several runs is one node.
type Neo4jRecorder struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jRecorder(driver neo4j.DriverWithContext) *Neo4jRecorder {
	return &Neo4jRecorder{driver: driver}
}

func (r *Neo4jRecorder) RecordRun(ctx context.Context, result pipeline.Result) error {
	if r.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (r:Run {id: $id})
			SET r.question = $question,
			    r.model = $model,
			    r.answer = $answer,
			    r.error = $error,
			    r.started_at = $started_at,
			    r.finished_at = $finished_at
		`, map[string]any{
			"id":          result.RunID,
			"question":    result.Question,
			"model":       result.Model,
			"answer":      result.Answer,
			"error":       errorText(result.Err),
			"started_at":  formatTime(result.StartedAt),
			"finished_at": formatTime(result.FinishedAt),
		}); err != nil {
			return nil, fmt.Errorf("upsert run node: %w", err)
		}

		if result.DocumentID != "" {
			if _, err := tx.Run(ctx, `
				MATCH (r:Run {id: $id})
				MERGE (d:Document {id: $doc_id})
				MERGE (r)-[:ABOUT]->(d)
			`, map[string]any{"id": result.RunID, "doc_id": result.DocumentID}); err != nil {
				return nil, fmt.Errorf("link run to document: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (r:Run {id: $id})-[:HAS_ROUND]->(rd:Round)
			DETACH DELETE rd
		`, map[string]any{"id": result.RunID}); err != nil {
			return nil, fmt.Errorf("clear existing rounds: %w", err)
		}

		for _, round := range result.Trace {
			roundID := fmt.Sprintf("%s#%d", result.RunID, round.Iteration)
			if _, err := tx.Run(ctx, `
				MATCH (r:Run {id: $run_id})
				MERGE (rd:Round {id: $round_id})
				SET rd.iteration = $iteration,
				    rd.intent = $intent,
				    rd.query = $query,
				    rd.sufficient = $sufficient
				MERGE (r)-[:HAS_ROUND {order: $iteration}]->(rd)
			`, map[string]any{
				"run_id":     result.RunID,
				"round_id":   roundID,
				"iteration":  round.Iteration,
				"intent":     round.Intent,
				"query":      round.Query,
				"sufficient": round.Sufficient,
			}); err != nil {
				return nil, fmt.Errorf("upsert round node: %w", err)
			}

			for rank, passage := range round.Passages {
				if _, err := tx.Run(ctx, `
					MATCH (rd:Round {id: $round_id})
					MERGE (p:Passage {hash: $hash})
					SET p.text = $text
					MERGE (rd)-[:RETRIEVED {rank: $rank}]->(p)
				`, map[string]any{
					"round_id": roundID,
					"hash":     passageHash(passage),
					"text":     passage,
					"rank":     rank,
				}); err != nil {
					return nil, fmt.Errorf("link retrieved passage: %w", err)
				}
			}
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	cleanup, err := session.Run(ctx, `
		MATCH (p:Passage)
		WHERE NOT (p)<-[:RETRIEVED]-(:Round)
		DELETE p
	`, nil)
	if err != nil {
		return fmt.Errorf("cleanup orphan passages: %w", err)
	}
	if _, err := cleanup.Consume(ctx); err != nil {
		return fmt.Errorf("cleanup orphan passages: %w", err)
	}
	return nil
}

// LoadRun reads a recorded run back with its rounds in order.
func (r *Neo4jRecorder) LoadRun(ctx context.Context, runID string) (pipeline.Result, error) {
	if r.driver == nil {
		return pipeline.Result{}, fmt.Errorf("neo4j driver is nil")
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (r:Run {id: $id})
		OPTIONAL MATCH (r)-[:ABOUT]->(d:Document)
		OPTIONAL MATCH (r)-[:HAS_ROUND]->(rd:Round)
		OPTIONAL MATCH (rd)-[ret:RETRIEVED]->(p:Passage)
		WITH r, d, rd, ret, p
		ORDER BY rd.iteration, ret.rank
		WITH r, d, rd, [x IN collect(p.text) WHERE x IS NOT NULL] AS passages
		ORDER BY rd.iteration
		RETURN r.question AS question,
		       r.model AS model,
		       r.answer AS answer,
		       d.id AS documentId,
		       collect(CASE WHEN rd IS NULL THEN NULL ELSE {
		           iteration: rd.iteration,
		           intent: rd.intent,
		           query: rd.query,
		           sufficient: rd.sufficient,
		           passages: passages
		       } END) AS rounds
	`, map[string]any{"id": runID})
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("run neo4j trace query: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return pipeline.Result{}, fmt.Errorf("neo4j trace result error: %w", err)
		}
		return pipeline.Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	record := result.Record()
	question, _ := record.Get("question")
	model, _ := record.Get("model")
	answer, _ := record.Get("answer")
	documentID, _ := record.Get("documentId")
	roundsVal, _ := record.Get("rounds")

	loaded := pipeline.Result{RunID: runID}
	loaded.Question, _ = question.(string)
	loaded.Model, _ = model.(string)
	loaded.Answer, _ = answer.(string)
	loaded.DocumentID, _ = documentID.(string)
	loaded.Trace = convertRounds(roundsVal)
	return loaded, nil
}

// Clear removes every recorded run, round and passage.
func (r *Neo4jRecorder) Clear(ctx context.Context) error {
	if r.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (r:Run) DETACH DELETE r",
		"MATCH (rd:Round) DETACH DELETE rd",
		"MATCH (p:Passage) DETACH DELETE p",
		"MATCH (d:Document) WHERE NOT (d)<-[:ABOUT]-(:Run) DETACH DELETE d",
	}
	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("clear trace graph: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("clear trace graph: %w", err)
		}
	}
	return nil
}

func convertRounds(value any) []pipeline.Round {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}

	rounds := make([]pipeline.Round, 0, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		iteration, _ := toInt(data["iteration"])
		intent, _ := data["intent"].(string)
		query, _ := data["query"].(string)
		sufficient, _ := data["sufficient"].(bool)
		rounds = append(rounds, pipeline.Round{
			Iteration:  iteration,
			Intent:     intent,
			Query:      query,
			Sufficient: sufficient,
			Passages:   convertStringSlice(data["passages"]),
		})
	}
	return rounds
}

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return []string{}
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func passageHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var _ pipeline.Recorder = (*Neo4jRecorder)(nil)
