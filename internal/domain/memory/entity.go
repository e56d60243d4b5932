package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Situation is one recorded deliberation outcome with a vector embedding
// of the situation digest. Records are append-only; each completed task
// writes a new independent row.
type Situation struct {
	ID     uuid.UUID `db:"id"`
	Market string    `db:"market"`
	Symbol string    `db:"symbol"`

	// Digest is the situation summary the embedding was computed from
	Digest    string          `db:"digest"`
	Embedding pgvector.Vector `db:"embedding"`

	// Outcome is the recommendation that resolved the situation
	Outcome    string  `db:"outcome"`
	Confidence float64 `db:"confidence"`

	TaskID    uuid.UUID `db:"task_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Similarity is attached by search queries (1 - cosine distance)
type RankedSituation struct {
	Situation
	Similarity float64 `db:"similarity"`
}
