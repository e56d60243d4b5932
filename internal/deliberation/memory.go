package deliberation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"delphi/internal/adapters/embeddings"
	"delphi/internal/domain/memory"
	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// digests longer than this are truncated before embedding; embedding
// models reject very long inputs and the head of the context carries the
// market report
const maxDigestChars = 8000

// SituationMemory bridges the debate's memory reads and the post-run
// write path to the vector store. All failures on the read path are
// absorbed: the actor proceeds without augmentation.
type SituationMemory struct {
	embedder embeddings.Provider
	repo     memory.Repository
	log      *logger.Logger
}

// NewSituationMemory creates the memory bridge
func NewSituationMemory(embedder embeddings.Provider, repo memory.Repository) *SituationMemory {
	return &SituationMemory{
		embedder: embedder,
		repo:     repo,
		log:      logger.Get().With("component", "situation_memory"),
	}
}

// Recall returns the most similar recorded situation and its outcome,
// formatted for prompt inclusion. Top-1 by cosine similarity is the
// documented retrieval policy.
func (m *SituationMemory) Recall(ctx context.Context, market, digest string) (string, bool) {
	vec, err := m.embedder.GenerateEmbedding(ctx, truncate(digest, maxDigestChars))
	if err != nil {
		m.log.Warnf("Memory lookup skipped, embedding failed: %v", err)
		metrics.MemoryLookups.WithLabelValues("error").Inc()
		return "", false
	}

	past, err := m.repo.SearchMostSimilar(ctx, market, pgvector.NewVector(vec))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			metrics.MemoryLookups.WithLabelValues("miss").Inc()
		} else {
			m.log.Warnf("Memory lookup skipped, store query failed: %v", err)
			metrics.MemoryLookups.WithLabelValues("error").Inc()
		}
		return "", false
	}

	metrics.MemoryLookups.WithLabelValues("hit").Inc()
	return fmt.Sprintf("A similar past situation (similarity %.2f) for %s resolved as:\n%s",
		past.Similarity, past.Symbol, past.Outcome), true
}

// Record appends the concluded situation for future retrieval. Called
// only after a task completes successfully; each call writes a new
// independent row, so no cross-task locking is needed.
func (m *SituationMemory) Record(ctx context.Context, taskID uuid.UUID, market, symbol, digest, outcome string, confidence float64) error {
	vec, err := m.embedder.GenerateEmbedding(ctx, truncate(digest, maxDigestChars))
	if err != nil {
		return errors.Wrap(err, "embed situation digest")
	}

	return m.repo.Record(ctx, &memory.Situation{
		ID:         uuid.New(),
		Market:     market,
		Symbol:     symbol,
		Digest:     truncate(digest, maxDigestChars),
		Embedding:  pgvector.NewVector(vec),
		Outcome:    outcome,
		Confidence: confidence,
		TaskID:     taskID,
		CreatedAt:  time.Now().UTC(),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
