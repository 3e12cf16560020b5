package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/costwise/pricematch/internal/models"
)

// provider is one upstream embedding service. Implementations do a single
// network round trip per call; batching, retry, and rate limiting live in
// Client.
type provider interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// apiError is a provider HTTP failure carrying the upstream status code.
type apiError struct {
	Provider string
	Status   int
	Body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// transient reports whether err is worth retrying: timeouts, rate limits,
// and upstream 5xx.
func transient(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == 429 || ae.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// keyEnvVar maps a model to the environment variable holding its API key.
func keyEnvVar(model models.Model) string {
	switch model {
	case models.ModelCohere:
		return "COHERE_API_KEY"
	case models.ModelOpenAI:
		return "OPENAI_API_KEY"
	case models.ModelGemini:
		return "GEMINI_API_KEY"
	}
	return ""
}
