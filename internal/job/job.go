// Package job tracks matching jobs through their lifecycle and runs them on
// a bounded worker pool.
package job

import (
	"sync"
	"time"

	"github.com/costwise/pricematch/internal/models"
)

// progressBuffer is the per-subscriber channel depth. A slow consumer may
// miss intermediate events but never sees them out of order.
const progressBuffer = 64

// Job is the tracked state of one matching run. All mutation goes through
// the methods below, which enforce the lifecycle: pending -> processing ->
// {completed | failed}, exactly one terminal transition, no mutation after
// it, and monotonically non-decreasing progress.
type Job struct {
	mu   sync.Mutex
	data models.MatchingJob
	subs map[chan models.ProgressEvent]struct{}
	// items is the parsed inquiry input. Kept in memory only; jobs loaded
	// from storage after a restart have no items and cannot be re-run.
	items []models.InquiryItem
}

func newJob(data models.MatchingJob, items []models.InquiryItem) *Job {
	return &Job{
		data:  data,
		items: items,
		subs:  make(map[chan models.ProgressEvent]struct{}),
	}
}

// Snapshot returns a copy of the job safe for concurrent readers. Slice
// fields are copied so callers cannot observe later mutation.
func (j *Job) Snapshot() models.MatchingJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() models.MatchingJob {
	out := j.data
	out.Logs = append([]string(nil), j.data.Logs...)
	if j.data.Results != nil {
		out.Results = append([]models.MatchedItem(nil), j.data.Results...)
	}
	return out
}

// Start transitions pending -> processing, recording the start timestamp.
// Returns false if the job is not pending (another worker claimed it or it
// was already finished).
func (j *Job) Start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.Status != models.StatusPending {
		return false
	}
	now := time.Now()
	j.data.Status = models.StatusProcessing
	j.data.StartedAt = &now
	j.data.UpdatedAt = now
	j.appendLogLocked("Processing started")
	return true
}

// Progress records a progress update. Updates that would decrease the
// percentage, and any update after a terminal state, are ignored.
func (j *Job) Progress(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.Status.Terminal() {
		return
	}
	if percent < j.data.Progress {
		return
	}
	j.data.Progress = percent
	j.data.UpdatedAt = time.Now()
	if message != "" {
		j.appendLogLocked(message)
	}
	j.publishLocked(models.ProgressEvent{
		JobID:   j.data.ID,
		Percent: percent,
		Message: message,
	})
}

// Complete performs the terminal transition to completed, setting results
// and progress=100 in the same atomic update. No observer can see
// status=completed with empty results. Returns false if the job was already
// terminal.
func (j *Job) Complete(results []models.MatchedItem) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.Status.Terminal() {
		return false
	}
	now := time.Now()
	j.data.Status = models.StatusCompleted
	j.data.Results = results
	j.data.Progress = 100
	j.data.CompletedAt = &now
	j.data.UpdatedAt = now
	j.appendLogLocked("Completed")
	j.publishLocked(models.ProgressEvent{
		JobID: j.data.ID, Percent: 100, Message: "Completed", Done: true,
	})
	j.closeSubsLocked()
	return true
}

// Fail performs the terminal transition to failed with a short classified
// message. Progress stays at its failure point. Returns false if the job
// was already terminal.
func (j *Job) Fail(message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.Status.Terminal() {
		return false
	}
	now := time.Now()
	j.data.Status = models.StatusFailed
	j.data.Error = message
	j.data.CompletedAt = &now
	j.data.UpdatedAt = now
	j.appendLogLocked("Failed: " + message)
	j.publishLocked(models.ProgressEvent{
		JobID: j.data.ID, Percent: j.data.Progress, Message: message, Done: true,
	})
	j.closeSubsLocked()
	return true
}

// Subscribe returns a channel of ordered progress events and an unsubscribe
// function. The channel is closed when the job reaches a terminal state. A
// subscriber joining a terminal job receives a single final event.
func (j *Job) Subscribe() (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, progressBuffer)
	j.mu.Lock()
	if j.data.Status.Terminal() {
		ch <- models.ProgressEvent{
			JobID:   j.data.ID,
			Percent: j.data.Progress,
			Message: string(j.data.Status),
			Done:    true,
		}
		close(ch)
		j.mu.Unlock()
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}
	j.mu.Unlock()

	return ch, func() {
		j.mu.Lock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
		j.mu.Unlock()
	}
}

func (j *Job) appendLogLocked(line string) {
	j.data.Logs = append(j.data.Logs, time.Now().Format(time.RFC3339)+" "+line)
}

func (j *Job) publishLocked(ev models.ProgressEvent) {
	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than block the worker.
		}
	}
}

func (j *Job) closeSubsLocked() {
	for ch := range j.subs {
		close(ch)
		delete(j.subs, ch)
	}
}
