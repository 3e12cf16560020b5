// Package catalog provides a keyword search index over the reference price
// list, used for interactive catalog lookup alongside the embedding-based
// matcher.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/costwise/pricematch/internal/models"
)

// Result is one catalog search hit.
type Result struct {
	Entry models.PriceListEntry `json:"entry"`
	Score float64               `json:"score"`
}

// indexDoc is the shape bleve indexes per entry. Keywords are flattened so
// the standard analyzer tokenizes them with the description.
type indexDoc struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Keywords    string `json:"keywords"`
}

// Index is a bleve-backed keyword index over price-list entries. Entries
// are kept alongside the index so hits return full records, not just IDs.
type Index struct {
	index bleve.Index

	mu      sync.RWMutex
	entries map[string]models.PriceListEntry
}

func indexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so technical
	// codes like "C25" and unit terms match exactly.
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("description", textField)
	docMapping.AddFieldMappingsAt("category", textField)
	docMapping.AddFieldMappingsAt("keywords", textField)
	docMapping.AddFieldMappingsAt("code", bleve.NewKeywordFieldMapping())

	im.DefaultMapping = docMapping
	return im
}

// NewIndex creates or opens a catalog index at path. An empty path builds
// an in-memory index, which is enough for a catalog that is reloaded from
// storage at startup.
func NewIndex(path string) (*Index, error) {
	var (
		index bleve.Index
		err   error
	)
	switch {
	case path == "":
		index, err = bleve.NewMemOnly(indexMapping())
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			index, err = bleve.Open(path)
		} else {
			index, err = bleve.New(path, indexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog index: %w", err)
	}
	return &Index{
		index:   index,
		entries: make(map[string]models.PriceListEntry),
	}, nil
}

// Rebuild replaces the index contents with the given entries. Called after
// a price-list upload so search reflects the new catalog atomically enough
// for interactive use.
func (ix *Index) Rebuild(ctx context.Context, entries []models.PriceListEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	batch := ix.index.NewBatch()
	for id := range ix.entries {
		batch.Delete(id)
	}
	for _, e := range entries {
		if err := batch.Index(e.ID, indexDoc{
			Code:        e.Code,
			Description: e.Description,
			Category:    e.Category,
			Keywords:    strings.Join(e.Keywords, " "),
		}); err != nil {
			return fmt.Errorf("index entry %s: %w", e.ID, err)
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}

	ix.entries = make(map[string]models.PriceListEntry, len(entries))
	for _, e := range entries {
		ix.entries[e.ID] = e
	}
	return nil
}

// Search runs a keyword query and returns up to limit hits, best first.
// Fuzzy matching tolerates one-character typos per term when enabled.
func (ix *Index) Search(ctx context.Context, query string, limit int, fuzzy bool) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", models.ErrValidation)
	}
	if limit <= 0 {
		limit = 10
	}

	var q blevequery.Query
	if fuzzy {
		q = fuzzyQuery(query)
	} else {
		q = bleve.NewMatchQuery(query)
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entry, ok := ix.entries[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Result{Entry: entry, Score: hit.Score})
	}
	return out, nil
}

// fuzzyQuery builds a disjunction of per-term fuzzy queries, mirroring
// match-query OR semantics with typo tolerance.
func fuzzyQuery(query string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return bleve.NewMatchQuery(query)
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(1)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Count returns the number of indexed entries.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Close releases the underlying index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
