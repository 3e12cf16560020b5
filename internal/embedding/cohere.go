package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	cohereEndpoint   = "https://api.cohere.com/v1/embed"
	cohereModel      = "embed-english-v3.0"
	cohereDimensions = 1024
)

// cohereProvider embeds via the Cohere embed API. There is no maintained Go
// SDK for it, so this is a thin net/http JSON client.
type cohereProvider struct {
	apiKey     string
	httpClient *http.Client
}

func newCohereProvider(apiKey string) *cohereProvider {
	return &cohereProvider{apiKey: apiKey, httpClient: http.DefaultClient}
}

func (p *cohereProvider) Name() string { return "cohere" }

type cohereRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *cohereProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(cohereRequest{
		Model:     cohereModel,
		Texts:     texts,
		InputType: "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cohere request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cohereEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apiError{Provider: p.Name(), Status: resp.StatusCode, Body: string(detail)}
	}
	var parsed cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}
	return parsed.Embeddings, nil
}
