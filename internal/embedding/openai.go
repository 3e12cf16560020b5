package embedding

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const openaiDimensions = 1536

// openAIProvider embeds via the OpenAI embeddings API.
type openAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func newOpenAIProvider(apiKey string) *openAIProvider {
	return &openAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
	}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &apiError{Provider: p.Name(), Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, err
	}
	// The API is documented to return data in input order, but Index is
	// authoritative.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
