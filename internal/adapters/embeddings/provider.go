package embeddings

import "context"

// Provider generates vector embeddings for text
type Provider interface {
	// GenerateEmbedding creates a vector embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the model name used for embeddings
	Name() string
}
