package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"delphi/internal/domain/memory"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

var _ memory.Repository = (*MemoryRepository)(nil)

// MemoryRepository stores situation memories with pgvector embeddings
type MemoryRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewMemoryRepository creates a new PostgreSQL memory repository
func NewMemoryRepository(db *sqlx.DB) *MemoryRepository {
	return &MemoryRepository{
		db:  db,
		log: logger.Get().With("component", "memory_repository"),
	}
}

// Record appends a new situation outcome
func (r *MemoryRepository) Record(ctx context.Context, s *memory.Situation) error {
	query := `
		INSERT INTO situation_memories (
			id, market, symbol, digest, embedding, outcome, confidence, task_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Market, s.Symbol, s.Digest, s.Embedding,
		s.Outcome, s.Confidence, s.TaskID, s.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record situation")
	}
	return nil
}

// SearchMostSimilar returns the single closest past situation for the
// market by cosine similarity
func (r *MemoryRepository) SearchMostSimilar(ctx context.Context, market string, embedding pgvector.Vector) (*memory.RankedSituation, error) {
	var ranked memory.RankedSituation
	query := `
		SELECT *, 1 - (embedding <=> $2) AS similarity
		FROM situation_memories
		WHERE market = $1
		ORDER BY embedding <=> $2
		LIMIT 1`

	err := r.db.GetContext(ctx, &ranked, query, market, embedding)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "no situations recorded for market %s", market)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to search situations")
	}
	return &ranked, nil
}
