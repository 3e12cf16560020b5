package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/costwise/pricematch/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. The
// same text always gets the same unit vector, and texts sharing words get
// correlated vectors, so similarity ordering behaves plausibly without a
// provider.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) embed(text string) []float32 {
	emb := make([]float32, e.dimensions)
	// Sum per-word hash vectors so shared vocabulary means higher cosine.
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		seed := h.Sum64()
		for i := 0; i < e.dimensions; i++ {
			emb[i] += float32(math.Sin(float64(seed%10007)*float64(i+1)) * 0.1)
		}
	}
	utils.NormalizeL2(emb)
	return emb
}

// EmbedBatch returns one deterministic vector per text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.embed(text)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}

var _ Embedder = (*MockEmbedder)(nil)
