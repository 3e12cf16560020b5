package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/costwise/pricematch/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Job logs, results, and
// batch membership are stored as JSON columns; jobs are read whole, never
// partially.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS price_list_entries (
		id TEXT PRIMARY KEY,
		code TEXT,
		description TEXT NOT NULL,
		rate REAL NOT NULL,
		unit TEXT,
		category TEXT,
		keywords TEXT
	);

	CREATE TABLE IF NOT EXISTS matching_jobs (
		id TEXT PRIMARY KEY,
		batch_id TEXT,
		file_name TEXT,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		logs TEXT,
		results TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON matching_jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON matching_jobs(batch_id);

	CREATE TABLE IF NOT EXISTS batch_jobs (
		id TEXT PRIMARY KEY,
		client_name TEXT,
		project_name TEXT,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		file_count INTEGER NOT NULL,
		job_ids TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplacePriceList swaps the whole catalog in one transaction.
func (s *SQLiteStorage) ReplacePriceList(ctx context.Context, entries []models.PriceListEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_list_entries`); err != nil {
		return fmt.Errorf("%w: clear price list: %v", models.ErrPersistence, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_list_entries (id, code, description, rate, unit, category, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", models.ErrPersistence, err)
	}
	defer stmt.Close()

	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("pl_%06d", i)
		}
		keywordsJSON, err := json.Marshal(e.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, e.Code, e.Description, e.Rate, e.Unit, e.Category, string(keywordsJSON)); err != nil {
			return fmt.Errorf("%w: insert entry %d: %v", models.ErrPersistence, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrPersistence, err)
	}
	return nil
}

// LoadPriceList returns the full catalog snapshot in insertion order.
func (s *SQLiteStorage) LoadPriceList(ctx context.Context) ([]models.PriceListEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, description, rate, unit, category, keywords
		 FROM price_list_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: load price list: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []models.PriceListEntry
	for rows.Next() {
		var e models.PriceListEntry
		var keywordsJSON string
		if err := rows.Scan(&e.ID, &e.Code, &e.Description, &e.Rate, &e.Unit, &e.Category, &keywordsJSON); err != nil {
			return nil, err
		}
		if keywordsJSON != "" {
			_ = json.Unmarshal([]byte(keywordsJSON), &e.Keywords)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountPriceListEntries returns the catalog size.
func (s *SQLiteStorage) CountPriceListEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_list_entries`).Scan(&count)
	return count, err
}

// SaveMatchingJob upserts a job snapshot.
func (s *SQLiteStorage) SaveMatchingJob(ctx context.Context, job *models.MatchingJob) error {
	logsJSON, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matching_jobs (id, batch_id, file_name, model, status, progress, logs, results, error, created_at, updated_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, progress=excluded.progress, logs=excluded.logs,
			results=excluded.results, error=excluded.error, updated_at=excluded.updated_at,
			started_at=excluded.started_at, completed_at=excluded.completed_at`,
		job.ID, job.BatchID, job.FileName, string(job.Model), string(job.Status), job.Progress,
		string(logsJSON), string(resultsJSON), job.Error,
		job.CreatedAt, job.UpdatedAt, nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: save job %s: %v", models.ErrPersistence, job.ID, err)
	}
	return nil
}

// GetMatchingJob returns a job by ID, or models.ErrNotFound.
func (s *SQLiteStorage) GetMatchingJob(ctx context.Context, id string) (*models.MatchingJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, file_name, model, status, progress, logs, results, error, created_at, updated_at, started_at, completed_at
		 FROM matching_jobs WHERE id = ?`, id)
	job, err := scanMatchingJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	return job, err
}

// ListMatchingJobs returns all jobs, newest first.
func (s *SQLiteStorage) ListMatchingJobs(ctx context.Context) ([]*models.MatchingJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, file_name, model, status, progress, logs, results, error, created_at, updated_at, started_at, completed_at
		 FROM matching_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	var jobs []*models.MatchingJob
	for rows.Next() {
		job, err := scanMatchingJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatchingJob(row rowScanner) (*models.MatchingJob, error) {
	var job models.MatchingJob
	var model, status, logsJSON, resultsJSON string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.BatchID, &job.FileName, &model, &status, &job.Progress,
		&logsJSON, &resultsJSON, &job.Error, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.Model = models.Model(model)
	job.Status = models.JobStatus(status)
	if logsJSON != "" {
		_ = json.Unmarshal([]byte(logsJSON), &job.Logs)
	}
	if resultsJSON != "" && resultsJSON != "null" {
		_ = json.Unmarshal([]byte(resultsJSON), &job.Results)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// SaveBatchJob upserts a batch snapshot.
func (s *SQLiteStorage) SaveBatchJob(ctx context.Context, batch *models.BatchJob) error {
	jobIDsJSON, err := json.Marshal(batch.JobIDs)
	if err != nil {
		return fmt.Errorf("marshal job ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, client_name, project_name, model, status, file_count, job_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, file_count=excluded.file_count,
			job_ids=excluded.job_ids, updated_at=excluded.updated_at`,
		batch.ID, batch.ClientName, batch.ProjectName, string(batch.Model), string(batch.Status),
		batch.FileCount, string(jobIDsJSON), batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save batch %s: %v", models.ErrPersistence, batch.ID, err)
	}
	return nil
}

// GetBatchJob returns a batch by ID, or models.ErrNotFound.
func (s *SQLiteStorage) GetBatchJob(ctx context.Context, id string) (*models.BatchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_name, project_name, model, status, file_count, job_ids, created_at, updated_at
		 FROM batch_jobs WHERE id = ?`, id)
	batch, err := scanBatchJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %s", models.ErrNotFound, id)
	}
	return batch, err
}

// ListBatchJobs returns all batches, newest first.
func (s *SQLiteStorage) ListBatchJobs(ctx context.Context) ([]*models.BatchJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_name, project_name, model, status, file_count, job_ids, created_at, updated_at
		 FROM batch_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list batches: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	var batches []*models.BatchJob
	for rows.Next() {
		batch, err := scanBatchJob(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanBatchJob(row rowScanner) (*models.BatchJob, error) {
	var batch models.BatchJob
	var model, status, jobIDsJSON string
	err := row.Scan(&batch.ID, &batch.ClientName, &batch.ProjectName, &model, &status,
		&batch.FileCount, &jobIDsJSON, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	batch.Model = models.Model(model)
	batch.Status = models.JobStatus(status)
	if jobIDsJSON != "" {
		_ = json.Unmarshal([]byte(jobIDsJSON), &batch.JobIDs)
	}
	return &batch, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

var _ Storage = (*SQLiteStorage)(nil)
