package embedding

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/models"
)

// Settings controls adapter behavior for all providers.
type Settings struct {
	BatchSize      int
	MaxAttempts    int
	RequestTimeout int // seconds
	RateLimit      float64
	Burst          int
	CacheSize      int
}

// Factory builds and memoizes one client per model. Sharing the client
// across job runs keeps its embedding cache alive, so re-running a job
// against an unchanged catalog snapshot does not re-bill the provider.
type Factory struct {
	settings Settings
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[models.Model]Embedder
}

// NewFactory creates a factory that applies s to every client it builds.
func NewFactory(s Settings, logger *zap.Logger) *Factory {
	return &Factory{
		settings: s,
		logger:   logger,
		clients:  make(map[models.Model]Embedder),
	}
}

// Get returns the embedder for model, building it on first use.
func (f *Factory) Get(model models.Model) (Embedder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.clients[model]; ok {
		return e, nil
	}
	e, err := NewForModel(model, f.settings, f.logger)
	if err != nil {
		return nil, err
	}
	f.clients[model] = e
	return e, nil
}

// Close closes every memoized client.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for model, e := range f.clients {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.clients, model)
	}
	return firstErr
}

// NewForModel builds an Embedder for the given model. API keys are resolved
// from the environment (COHERE_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY).
func NewForModel(model models.Model, s Settings, logger *zap.Logger) (Embedder, error) {
	if !model.Valid() {
		return nil, fmt.Errorf("%w: unknown model %q", models.ErrValidation, model)
	}
	apiKey := os.Getenv(keyEnvVar(model))
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", models.ErrValidation, keyEnvVar(model))
	}

	var p provider
	var dims int
	switch model {
	case models.ModelCohere:
		p, dims = newCohereProvider(apiKey), cohereDimensions
	case models.ModelOpenAI:
		p, dims = newOpenAIProvider(apiKey), openaiDimensions
	case models.ModelGemini:
		p, dims = newGeminiProvider(apiKey), geminiDimensions
	}

	opts := []ClientOption{
		WithBatchSize(s.BatchSize),
		WithMaxAttempts(s.MaxAttempts),
	}
	if s.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(s.RequestTimeout)*time.Second))
	}
	if s.RateLimit > 0 {
		burst := s.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, WithRateLimit(s.RateLimit, burst))
	}
	if s.CacheSize > 0 {
		opts = append(opts, WithCache(s.CacheSize))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return NewClient(p, dims, opts...), nil
}
