package memory

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Repository defines operations for the situation memory store.
// Reads happen on every debate turn when memory is enabled; writes happen
// only after a task concludes successfully. Both may fail without failing
// the caller's task.
type Repository interface {
	// Record appends a new situation outcome
	Record(ctx context.Context, s *Situation) error

	// SearchMostSimilar returns the single closest past situation for the
	// market by cosine similarity, or ErrNotFound when the store is empty.
	// Top-1 retrieval is the documented similarity policy; ranked ensembles
	// are a future extension point.
	SearchMostSimilar(ctx context.Context, market string, embedding pgvector.Vector) (*RankedSituation, error)
}
