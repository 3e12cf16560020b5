package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/embedding"
	"github.com/costwise/pricematch/internal/export"
	"github.com/costwise/pricematch/internal/match"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/storage"
)

// EmbedderFactory builds an embedder for the model a job was submitted
// with. Injected so tests can run the pipeline without network access.
// The factory owns the embedder lifetime and may hand out a shared
// client, so its embedding cache persists across job runs.
type EmbedderFactory func(model models.Model) (embedding.Embedder, error)

// Config bounds the worker pool and the per-job run.
type Config struct {
	// MaxConcurrent is the number of jobs processed in parallel.
	MaxConcurrent int
	// QueueSize bounds pending submissions; Submit fails fast when full.
	QueueSize int
	// JobTimeout is the wall-clock limit for one job run. Zero disables it.
	JobTimeout time.Duration
	// SemanticWeight and LexicalWeight override the matcher blend when
	// both are positive.
	SemanticWeight float64
	LexicalWeight  float64
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Processor owns the job registry and runs submitted jobs on a bounded
// worker pool. Every state transition is written through to storage so job
// history survives a restart.
type Processor struct {
	store       storage.Storage
	newEmbedder EmbedderFactory
	cfg         Config
	logger      *zap.Logger

	queue chan string

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	batches map[string]*models.BatchJob

	runCtx  context.Context
	runStop context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a processor. Call Start before submitting jobs.
func NewProcessor(store storage.Storage, factory EmbedderFactory, cfg Config, opts ...Option) *Processor {
	cfg.applyDefaults()
	p := &Processor{
		store:       store,
		newEmbedder: factory,
		cfg:         cfg,
		logger:      zap.NewNop(),
		queue:       make(chan string, cfg.QueueSize),
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		batches:     make(map[string]*models.BatchJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start warm-loads persisted history and launches the worker pool. Jobs
// that were pending or processing when the previous process died cannot be
// resumed (their parsed input lived only in memory), so they are marked
// failed rather than left to look alive forever.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	persisted, err := p.store.ListMatchingJobs(ctx)
	if err != nil {
		return fmt.Errorf("load job history: %w", err)
	}
	for _, pj := range persisted {
		j := newJob(*pj, nil)
		if !pj.Status.Terminal() {
			j.Fail("interrupted by restart")
			snap := j.Snapshot()
			if err := p.store.SaveMatchingJob(ctx, &snap); err != nil {
				p.logger.Warn("failed to persist interrupted job",
					zap.String("job_id", pj.ID), zap.Error(err))
			}
		}
		p.jobs[pj.ID] = j
	}

	batches, err := p.store.ListBatchJobs(ctx)
	if err != nil {
		return fmt.Errorf("load batch history: %w", err)
	}
	for _, b := range batches {
		p.batches[b.ID] = b
	}

	p.runCtx, p.runStop = context.WithCancel(context.Background())
	for i := 0; i < p.cfg.MaxConcurrent; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	p.logger.Info("processor started",
		zap.Int("max_concurrent", p.cfg.MaxConcurrent),
		zap.Int("restored_jobs", len(persisted)))
	return nil
}

// Stop drains the worker pool. In-flight jobs are cancelled and finish as
// failed.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.runStop()
	p.mu.Unlock()
	p.wg.Wait()
}

// SubmitInput describes one matching job.
type SubmitInput struct {
	FileName string
	Model    models.Model
	Items    []models.InquiryItem
	BatchID  string
}

// Submit validates the input, persists a pending job, and enqueues it.
// Returns the job ID immediately; processing happens on the worker pool.
func (p *Processor) Submit(ctx context.Context, in SubmitInput) (string, error) {
	if !in.Model.Valid() {
		return "", fmt.Errorf("%w: unknown model %q", models.ErrValidation, in.Model)
	}
	if len(in.Items) == 0 {
		return "", fmt.Errorf("%w: no inquiry items", models.ErrValidation)
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.Description) == "" {
			return "", fmt.Errorf("%w: empty description at item %d", models.ErrValidation, i+1)
		}
	}

	now := time.Now()
	data := models.MatchingJob{
		ID:        "job_" + uuid.NewString(),
		BatchID:   in.BatchID,
		FileName:  in.FileName,
		Model:     in.Model,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	j := newJob(data, in.Items)

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return "", errors.New("processor not started")
	}

	if err := p.store.SaveMatchingJob(ctx, &data); err != nil {
		return "", fmt.Errorf("%w: save job: %v", models.ErrPersistence, err)
	}

	p.mu.Lock()
	p.jobs[data.ID] = j
	p.mu.Unlock()

	select {
	case p.queue <- data.ID:
	default:
		j.Fail("queue full")
		p.persist(j)
		return "", fmt.Errorf("%w: job queue full", models.ErrBusy)
	}

	p.logger.Info("job submitted",
		zap.String("job_id", data.ID),
		zap.String("model", string(in.Model)),
		zap.Int("items", len(in.Items)))
	return data.ID, nil
}

// BatchFile is one inquiry file within a batch submission.
type BatchFile struct {
	FileName string
	Items    []models.InquiryItem
}

// BatchInput describes a bulk submission of several inquiry files sharing
// one client, project and model.
type BatchInput struct {
	ClientName  string
	ProjectName string
	Model       models.Model
	Files       []BatchFile
}

// SubmitBatch creates a batch record plus one matching job per file.
// Returns the batch ID and the job IDs in file order. Files are validated
// up front; a batch with any invalid file is rejected whole.
func (p *Processor) SubmitBatch(ctx context.Context, in BatchInput) (string, []string, error) {
	if !in.Model.Valid() {
		return "", nil, fmt.Errorf("%w: unknown model %q", models.ErrValidation, in.Model)
	}
	if len(in.Files) == 0 {
		return "", nil, fmt.Errorf("%w: no files", models.ErrValidation)
	}
	for _, f := range in.Files {
		if len(f.Items) == 0 {
			return "", nil, fmt.Errorf("%w: file %q has no inquiry items", models.ErrValidation, f.FileName)
		}
	}

	now := time.Now()
	batch := &models.BatchJob{
		ID:          "batch_" + uuid.NewString(),
		ClientName:  in.ClientName,
		ProjectName: in.ProjectName,
		Model:       in.Model,
		Status:      models.StatusPending,
		FileCount:   len(in.Files),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	jobIDs := make([]string, 0, len(in.Files))
	for _, f := range in.Files {
		id, err := p.Submit(ctx, SubmitInput{
			FileName: f.FileName,
			Model:    in.Model,
			Items:    f.Items,
			BatchID:  batch.ID,
		})
		if err != nil {
			return "", nil, fmt.Errorf("submit %q: %w", f.FileName, err)
		}
		jobIDs = append(jobIDs, id)
	}
	batch.JobIDs = jobIDs

	if err := p.store.SaveBatchJob(ctx, batch); err != nil {
		return "", nil, fmt.Errorf("%w: save batch: %v", models.ErrPersistence, err)
	}
	p.mu.Lock()
	p.batches[batch.ID] = batch
	p.mu.Unlock()

	p.logger.Info("batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("files", len(in.Files)))
	return batch.ID, jobIDs, nil
}

// Get returns a snapshot of the job.
func (p *Processor) Get(id string) (models.MatchingJob, error) {
	j := p.job(id)
	if j == nil {
		return models.MatchingJob{}, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	return j.Snapshot(), nil
}

// List returns snapshots of all known jobs, newest first.
func (p *Processor) List() []models.MatchingJob {
	p.mu.RLock()
	out := make([]models.MatchingJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, j.Snapshot())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// GetBatch returns the batch record with its status recomputed from the
// member jobs, plus snapshots of those jobs in submission order.
func (p *Processor) GetBatch(id string) (models.BatchJob, []models.MatchingJob, error) {
	p.mu.RLock()
	batch, ok := p.batches[id]
	p.mu.RUnlock()
	if !ok {
		return models.BatchJob{}, nil, fmt.Errorf("%w: batch %s", models.ErrNotFound, id)
	}

	out := *batch
	jobs := make([]models.MatchingJob, 0, len(batch.JobIDs))
	for _, jobID := range batch.JobIDs {
		if j := p.job(jobID); j != nil {
			jobs = append(jobs, j.Snapshot())
		}
	}
	out.Status = aggregateStatus(jobs)
	return out, jobs, nil
}

// Cancel requests cancellation of a running job. Pending jobs fail
// immediately; processing jobs are cancelled through their context and
// finish as failed/cancelled. Cancelling a terminal job is a no-op.
func (p *Processor) Cancel(id string) error {
	j := p.job(id)
	if j == nil {
		return fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}

	p.mu.Lock()
	cancel, running := p.cancels[id]
	p.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	if j.Fail("cancelled") {
		p.persist(j)
		p.refreshBatch(j.Snapshot().BatchID)
	}
	return nil
}

// Subscribe attaches to a job's progress stream.
func (p *Processor) Subscribe(id string) (<-chan models.ProgressEvent, func(), error) {
	j := p.job(id)
	if j == nil {
		return nil, nil, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	ch, unsub := j.Subscribe()
	return ch, unsub, nil
}

// ExportResults renders a completed job's results in the given format
// ("csv" or "xlsx") and returns the bytes with a suggested file name.
func (p *Processor) ExportResults(id, format string) ([]byte, string, error) {
	j := p.job(id)
	if j == nil {
		return nil, "", fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	snap := j.Snapshot()
	if snap.Status != models.StatusCompleted {
		return nil, "", fmt.Errorf("%w: job %s is %s", models.ErrJobNotReady, id, snap.Status)
	}

	switch format {
	case "csv":
		data, err := export.CSV(snap.Results)
		return data, id + ".csv", err
	case "xlsx":
		data, err := export.XLSX(snap.Results)
		return data, id + ".xlsx", err
	default:
		return nil, "", fmt.Errorf("%w: unknown export format %q", models.ErrValidation, format)
	}
}

func (p *Processor) job(id string) *Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jobs[id]
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			return
		case id := <-p.queue:
			p.run(id)
		}
	}
}

// run executes one job. A panic inside the pipeline fails that job only;
// the worker keeps serving the queue.
func (p *Processor) run(id string) {
	j := p.job(id)
	if j == nil {
		return
	}
	// Claim the job. Loses the race only if it was cancelled while queued.
	if !j.Start() {
		return
	}
	p.persist(j)

	ctx := p.runCtx
	var cancel context.CancelFunc
	if p.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	p.mu.Lock()
	p.cancels[id] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancels, id)
		p.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				zap.String("job_id", id), zap.Any("panic", r))
			j.Fail("internal error")
			p.persist(j)
			p.refreshBatch(j.Snapshot().BatchID)
		}
	}()

	if err := p.runMatch(ctx, j); err != nil {
		p.logger.Warn("job failed",
			zap.String("job_id", id), zap.Error(err))
		j.Fail(classify(ctx, err))
	} else {
		p.logger.Info("job completed", zap.String("job_id", id))
	}
	p.persist(j)
	p.refreshBatch(j.Snapshot().BatchID)
}

func (p *Processor) runMatch(ctx context.Context, j *Job) error {
	snap := j.Snapshot()

	catalog, err := p.store.LoadPriceList(ctx)
	if err != nil {
		return fmt.Errorf("%w: load price list: %v", models.ErrPersistence, err)
	}
	if len(catalog) == 0 {
		return models.ErrNoReferenceData
	}
	j.Progress(5, fmt.Sprintf("Loaded %d price list entries", len(catalog)))

	emb, err := p.newEmbedder(snap.Model)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	opts := []match.MatcherOption{match.WithLogger(p.logger)}
	if p.cfg.SemanticWeight > 0 && p.cfg.LexicalWeight > 0 {
		opts = append(opts, match.WithWeights(p.cfg.SemanticWeight, p.cfg.LexicalWeight))
	}
	matcher := match.NewMatcher(emb, opts...)

	results, err := matcher.Match(ctx, j.items, catalog, func(percent int, message string) {
		j.Progress(percent, message)
	})
	if err != nil {
		return err
	}
	j.Complete(results)
	return nil
}

// classify maps a pipeline error to the short message stored on the job.
// Provider and storage detail stays in the process logs.
func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, models.ErrCancelled):
		if ctx.Err() == context.DeadlineExceeded {
			return "timed out"
		}
		return "cancelled"
	case errors.Is(err, models.ErrNoReferenceData):
		return "no reference price data loaded"
	case errors.Is(err, models.ErrProviderUnavailable):
		return "embedding provider unavailable"
	case errors.Is(err, models.ErrValidation):
		return "invalid input"
	case errors.Is(err, models.ErrPersistence):
		return "storage failure"
	default:
		return "internal error"
	}
}

// persist writes the current job snapshot through to storage. Failures are
// logged, not fatal: the in-memory state machine stays authoritative for
// the life of the process.
func (p *Processor) persist(j *Job) {
	snap := j.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveMatchingJob(ctx, &snap); err != nil {
		p.logger.Error("failed to persist job",
			zap.String("job_id", snap.ID), zap.Error(err))
	}
}

// refreshBatch recomputes and persists a batch's aggregate status after one
// of its jobs changes state.
func (p *Processor) refreshBatch(batchID string) {
	if batchID == "" {
		return
	}
	p.mu.Lock()
	batch, ok := p.batches[batchID]
	if !ok {
		p.mu.Unlock()
		return
	}
	jobs := make([]models.MatchingJob, 0, len(batch.JobIDs))
	for _, id := range batch.JobIDs {
		if j := p.jobs[id]; j != nil {
			jobs = append(jobs, j.Snapshot())
		}
	}
	batch.Status = aggregateStatus(jobs)
	batch.UpdatedAt = time.Now()
	out := *batch
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveBatchJob(ctx, &out); err != nil {
		p.logger.Error("failed to persist batch",
			zap.String("batch_id", batchID), zap.Error(err))
	}
}

// aggregateStatus derives a batch status from its member jobs: completed
// when every job completed, failed when every job is terminal and at least
// one failed, processing while any work remains after some has started.
func aggregateStatus(jobs []models.MatchingJob) models.JobStatus {
	if len(jobs) == 0 {
		return models.StatusPending
	}
	var completed, failed, pending int
	for _, j := range jobs {
		switch j.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
		case models.StatusPending:
			pending++
		}
	}
	switch {
	case completed == len(jobs):
		return models.StatusCompleted
	case completed+failed == len(jobs):
		return models.StatusFailed
	case pending == len(jobs):
		return models.StatusPending
	default:
		return models.StatusProcessing
	}
}
