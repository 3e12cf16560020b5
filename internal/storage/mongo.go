package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/costwise/pricematch/internal/models"
)

const (
	collPriceList    = "price_list_entries"
	collMatchingJobs = "matching_jobs"
	collBatchJobs    = "batch_jobs"
)

// MongoStorage implements Storage on a MongoDB database. Jobs and price
// list entries map directly to documents via their bson tags.
type MongoStorage struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStorage connects to the MongoDB at uri and uses the given
// database name. The connection is verified with a ping before returning.
func NewMongoStorage(ctx context.Context, uri, dbName string) (*MongoStorage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStorage{client: client, db: client.Database(dbName)}, nil
}

// ReplacePriceList swaps the whole catalog: delete all, insert all.
func (s *MongoStorage) ReplacePriceList(ctx context.Context, entries []models.PriceListEntry) error {
	coll := s.db.Collection(collPriceList)
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear price list: %v", models.ErrPersistence, err)
	}
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = fmt.Sprintf("pl_%06d", i)
		}
		docs[i] = e
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("%w: insert price list: %v", models.ErrPersistence, err)
	}
	return nil
}

// LoadPriceList returns the full catalog snapshot in id order.
func (s *MongoStorage) LoadPriceList(ctx context.Context) ([]models.PriceListEntry, error) {
	cursor, err := s.db.Collection(collPriceList).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: load price list: %v", models.ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var entries []models.PriceListEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode price list: %v", models.ErrPersistence, err)
	}
	return entries, nil
}

// CountPriceListEntries returns the catalog size.
func (s *MongoStorage) CountPriceListEntries(ctx context.Context) (int64, error) {
	return s.db.Collection(collPriceList).CountDocuments(ctx, bson.M{})
}

// SaveMatchingJob upserts a job snapshot keyed by its id.
func (s *MongoStorage) SaveMatchingJob(ctx context.Context, job *models.MatchingJob) error {
	_, err := s.db.Collection(collMatchingJobs).ReplaceOne(ctx,
		bson.M{"_id": job.ID}, job, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: save job %s: %v", models.ErrPersistence, job.ID, err)
	}
	return nil
}

// GetMatchingJob returns a job by ID, or models.ErrNotFound.
func (s *MongoStorage) GetMatchingJob(ctx context.Context, id string) (*models.MatchingJob, error) {
	var job models.MatchingJob
	err := s.db.Collection(collMatchingJobs).FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job %s: %v", models.ErrPersistence, id, err)
	}
	return &job, nil
}

// ListMatchingJobs returns all jobs, newest first.
func (s *MongoStorage) ListMatchingJobs(ctx context.Context) ([]*models.MatchingJob, error) {
	cursor, err := s.db.Collection(collMatchingJobs).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", models.ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.MatchingJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("%w: decode jobs: %v", models.ErrPersistence, err)
	}
	return jobs, nil
}

// SaveBatchJob upserts a batch snapshot keyed by its id.
func (s *MongoStorage) SaveBatchJob(ctx context.Context, batch *models.BatchJob) error {
	_, err := s.db.Collection(collBatchJobs).ReplaceOne(ctx,
		bson.M{"_id": batch.ID}, batch, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: save batch %s: %v", models.ErrPersistence, batch.ID, err)
	}
	return nil
}

// GetBatchJob returns a batch by ID, or models.ErrNotFound.
func (s *MongoStorage) GetBatchJob(ctx context.Context, id string) (*models.BatchJob, error) {
	var batch models.BatchJob
	err := s.db.Collection(collBatchJobs).FindOne(ctx, bson.M{"_id": id}).Decode(&batch)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: batch %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get batch %s: %v", models.ErrPersistence, id, err)
	}
	return &batch, nil
}

// ListBatchJobs returns all batches, newest first.
func (s *MongoStorage) ListBatchJobs(ctx context.Context) ([]*models.BatchJob, error) {
	cursor, err := s.db.Collection(collBatchJobs).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list batches: %v", models.ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var batches []*models.BatchJob
	if err := cursor.All(ctx, &batches); err != nil {
		return nil, fmt.Errorf("%w: decode batches: %v", models.ErrPersistence, err)
	}
	return batches, nil
}

// Close disconnects from MongoDB.
func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Storage = (*MongoStorage)(nil)
