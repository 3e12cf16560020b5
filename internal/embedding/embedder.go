// Package embedding provides text embedding via remote providers, with
// batching, retry, rate limiting, and caching.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order. It
	// either returns a full set of vectors or an error; callers never see
	// a partial result.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
