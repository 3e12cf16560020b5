// Package storage defines the persistence interface for price lists and
// jobs, with SQLite and MongoDB implementations.
package storage

import (
	"context"

	"github.com/costwise/pricematch/internal/models"
)

// Storage defines price-list and job persistence operations. The matching
// core never issues raw storage queries itself; everything goes through
// this interface.
type Storage interface {
	// Price list operations. ReplacePriceList swaps the whole reference
	// catalog atomically; the matcher only ever reads full snapshots.
	ReplacePriceList(ctx context.Context, entries []models.PriceListEntry) error
	LoadPriceList(ctx context.Context) ([]models.PriceListEntry, error)
	CountPriceListEntries(ctx context.Context) (int64, error)

	// Matching job operations. Save is an upsert keyed by job ID.
	SaveMatchingJob(ctx context.Context, job *models.MatchingJob) error
	GetMatchingJob(ctx context.Context, id string) (*models.MatchingJob, error)
	ListMatchingJobs(ctx context.Context) ([]*models.MatchingJob, error)

	// Batch job operations.
	SaveBatchJob(ctx context.Context, batch *models.BatchJob) error
	GetBatchJob(ctx context.Context, id string) (*models.BatchJob, error)
	ListBatchJobs(ctx context.Context) ([]*models.BatchJob, error)

	Close() error
}
