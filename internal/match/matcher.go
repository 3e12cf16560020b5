package match

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/embedding"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/normalize"
	"github.com/costwise/pricematch/internal/vector"
)

// Blend weights. Embeddings carry the semantic signal; lexical overlap
// breaks near-ties and rescues exact technical-code matches that embeddings
// undervalue. Must sum to 1.
const (
	defaultSemanticWeight = 0.85
	defaultLexicalWeight  = 0.15
)

// ProgressFunc receives ordered progress events during a match run. percent
// is 0-100 and never decreases within one run.
type ProgressFunc func(percent int, message string)

// Matcher finds, for each inquiry description, the best-matching price-list
// entry with a confidence score.
type Matcher struct {
	embedder       embedding.Embedder
	semanticWeight float64
	lexicalWeight  float64
	logger         *zap.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) MatcherOption {
	return func(m *Matcher) { m.logger = l }
}

// WithWeights overrides the blend weights. Values are normalized so they
// sum to 1; non-positive inputs keep the defaults.
func WithWeights(semantic, lexical float64) MatcherOption {
	return func(m *Matcher) {
		if semantic <= 0 || lexical < 0 {
			return
		}
		total := semantic + lexical
		m.semanticWeight = semantic / total
		m.lexicalWeight = lexical / total
	}
}

// NewMatcher creates a matcher using the given embedder.
func NewMatcher(embedder embedding.Embedder, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		embedder:       embedder,
		semanticWeight: defaultSemanticWeight,
		lexicalWeight:  defaultLexicalWeight,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Progress split across phases: embedding the catalog dominates cost on
// large price lists, then inquiries, then scoring.
const (
	progressCatalogDone   = 40
	progressInquiriesDone = 70
)

// Match returns one MatchedItem per inquiry, in input order. The catalog is
// embedded once per call, not once per inquiry, so cost is
// O(inquiries + catalog) embedding calls.
//
// Empty inquiries yield an empty result. An empty catalog fails with
// models.ErrNoReferenceData. Provider failures propagate; there is no
// fallback to fabricated matches.
func (m *Matcher) Match(
	ctx context.Context,
	inquiries []models.InquiryItem,
	catalog []models.PriceListEntry,
	onProgress ProgressFunc,
) ([]models.MatchedItem, error) {
	if onProgress == nil {
		onProgress = func(int, string) {}
	}
	if len(inquiries) == 0 {
		return []models.MatchedItem{}, nil
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: price list is empty", models.ErrNoReferenceData)
	}

	catalogNorm := make([]string, len(catalog))
	catalogTokens := make([]map[string]struct{}, len(catalog))
	for i, entry := range catalog {
		catalogNorm[i] = normalize.Normalize(entry.Description)
		catalogTokens[i] = tokenSet(normalize.Tokens(catalogNorm[i]))
	}
	inquiryNorm := make([]string, len(inquiries))
	for i, item := range inquiries {
		inquiryNorm[i] = normalize.Normalize(item.Description)
	}

	onProgress(5, fmt.Sprintf("Embedding %d price list entries", len(catalog)))
	catalogVecs, err := m.embedder.EmbedBatch(ctx, catalogNorm)
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	onProgress(progressCatalogDone, "Price list embedded")

	inquiryVecs, err := m.embedder.EmbedBatch(ctx, inquiryNorm)
	if err != nil {
		return nil, fmt.Errorf("embed inquiries: %w", err)
	}
	onProgress(progressInquiriesDone, fmt.Sprintf("Embedded %d inquiry items", len(inquiries)))

	results := make([]models.MatchedItem, len(inquiries))
	for i := range inquiries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: matching aborted: %v", models.ErrCancelled, err)
		}
		results[i] = m.best(inquiries[i], inquiryNorm[i], inquiryVecs[i], catalog, catalogTokens, catalogVecs)

		percent := progressInquiriesDone + (i+1)*(100-progressInquiriesDone)/len(inquiries)
		onProgress(percent, fmt.Sprintf("Matched %d/%d items", i+1, len(inquiries)))
	}

	if m.logger != nil {
		m.logger.Debug("match run complete",
			zap.Int("inquiries", len(inquiries)),
			zap.Int("catalog", len(catalog)))
	}
	return results, nil
}

// best selects the catalog entry with the maximum blended score. Ties on the
// blended score prefer the higher raw cosine, then the earlier catalog entry,
// so results are reproducible.
func (m *Matcher) best(
	item models.InquiryItem,
	itemNorm string,
	itemVec []float32,
	catalog []models.PriceListEntry,
	catalogTokens []map[string]struct{},
	catalogVecs [][]float32,
) models.MatchedItem {
	itemTokens := tokenSet(normalize.Tokens(itemNorm))

	bestIdx := 0
	bestScore := -1.0
	bestCos := -1.0
	for j := range catalog {
		cos := vector.Cosine(itemVec, catalogVecs[j])
		score := m.semanticWeight*cos + m.lexicalWeight*jaccard(itemTokens, catalogTokens[j])
		if score > bestScore || (score == bestScore && cos > bestCos) {
			bestIdx, bestScore, bestCos = j, score, cos
		}
	}

	return models.MatchedItem{
		SourceDescription:  item.Description,
		MatchedDescription: catalog[bestIdx].Description,
		MatchedRate:        catalog[bestIdx].Rate,
		Confidence:         clamp01(bestScore),
		Unit:               item.Unit,
		Quantity:           item.Quantity,
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
