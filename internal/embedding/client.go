package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/costwise/pricematch/internal/models"
)

const (
	defaultBatchSize      = 96
	defaultMaxAttempts    = 3
	defaultRequestTimeout = 10 * time.Second
)

// Client adapts a remote embedding provider to the Embedder interface. It
// splits inputs into provider-sized batches, rate-limits and retries each
// batch, and reassembles vectors in input order. A batch either fully
// succeeds or the whole call fails; the caller never receives fewer vectors
// than texts.
type Client struct {
	provider       provider
	dimensions     int
	batchSize      int
	maxAttempts    int
	requestTimeout time.Duration
	initialBackoff time.Duration
	limiter        *rate.Limiter
	cache          *Cache
	logger         *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for debug output (batch sizes, retries).
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBatchSize overrides the provider batch size.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many times each batch is attempted before the
// call fails.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRequestTimeout bounds each provider network call independently of the
// caller's context.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithRateLimit caps provider calls at rps requests per second with the
// given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCache caches embeddings keyed by text, so unchanged catalog snapshots
// are not re-embedded.
func WithCache(capacity int) ClientOption {
	return func(c *Client) {
		if capacity > 0 {
			c.cache = NewCache(capacity)
		}
	}
}

// NewClient wraps the given provider.
func NewClient(p provider, dimensions int, opts ...ClientOption) *Client {
	c := &Client{
		provider:       p,
		dimensions:     dimensions,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		requestTimeout: defaultRequestTimeout,
		initialBackoff: 500 * time.Millisecond,
		limiter:        rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbedBatch embeds texts in input order. Transient provider failures
// (timeouts, 5xx, rate limits) are retried per batch with exponential
// backoff; once retries are exhausted the whole call fails wrapping
// models.ErrProviderUnavailable.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))

	// Resolve cache hits first; only misses go to the provider.
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if c.cache != nil {
			if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]
		vectors, err := c.embedOneBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
				models.ErrProviderUnavailable, c.provider.Name(), len(vectors), len(batch))
		}
		for j, vec := range vectors {
			i := missIdx[start+j]
			out[i] = vec
			if c.cache != nil {
				c.cache.Set(c.cacheKey(texts[i]), vec)
			}
		}
	}
	return out, nil
}

func (c *Client) embedOneBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		vs, err := c.provider.EmbedBatch(callCtx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !transient(err) {
				return backoff.Permanent(err)
			}
			if c.logger != nil {
				c.logger.Debug("embedding batch retry",
					zap.String("provider", c.provider.Name()),
					zap.Int("attempt", attempt),
					zap.Int("batch_size", len(batch)),
					zap.Error(err))
			}
			return err
		}
		vectors = vs
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialBackoff
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: embedding call aborted: %v", models.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %v",
			models.ErrProviderUnavailable, c.provider.Name(), attempt, err)
	}
	return vectors, nil
}

func (c *Client) cacheKey(text string) string {
	return c.provider.Name() + "\x00" + text
}

// Dimensions returns the embedding dimension of the underlying provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; provider connections are per-request.
func (c *Client) Close() error {
	return nil
}

var _ Embedder = (*Client)(nil)
