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
	geminiEndpoint   = "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:batchEmbedContents"
	geminiModel      = "models/text-embedding-004"
	geminiDimensions = 768
)

// geminiProvider embeds via the Gemini batchEmbedContents API (net/http JSON
// client, same shape as the cohere one).
type geminiProvider struct {
	apiKey     string
	httpClient *http.Client
}

func newGeminiProvider(apiKey string) *geminiProvider {
	return &geminiProvider{apiKey: apiKey, httpClient: http.DefaultClient}
}

func (p *geminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (p *geminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := geminiBatchRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = geminiEmbedRequest{
			Model:   geminiModel,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, geminiEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apiError{Provider: p.Name(), Status: resp.StatusCode, Body: string(detail)}
	}
	var parsed geminiBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	out := make([][]float32, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
