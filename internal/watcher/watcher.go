// Package watcher implements the inbox hot folder: BoQ files dropped into a
// watched directory are parsed and submitted as matching jobs, then moved to
// processed/ or failed/.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/parse"
)

// Writes to the inbox may arrive in several chunks; wait for the file to go
// quiet before parsing it.
const defaultDebounce = 400 * time.Millisecond

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Submitter accepts parsed inquiry files for matching. Implemented by
// job.Processor.
type Submitter interface {
	Submit(ctx context.Context, in job.SubmitInput) (string, error)
}

// Inbox watches one directory for BoQ files and submits them automatically.
type Inbox struct {
	dir        string
	model      models.Model
	extensions []string
	submitter  Submitter
	debounce   time.Duration
	logger     *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) InboxOption {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce overrides the quiet period before a dropped file is parsed.
func WithDebounce(d time.Duration) InboxOption {
	return func(in *Inbox) { in.debounce = d }
}

// NewInbox creates an inbox over dir. Files whose extension is not listed
// are ignored. Submitted jobs use the given model.
func NewInbox(dir string, model models.Model, extensions []string, submitter Submitter, opts ...InboxOption) *Inbox {
	in := &Inbox{
		dir:         dir,
		model:       model,
		extensions:  extensions,
		submitter:   submitter,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start creates the inbox directory structure, submits any files already
// waiting, and begins watching. Runs until ctx is cancelled or Stop is
// called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	for _, d := range []string{in.dir, filepath.Join(in.dir, processedDir), filepath.Join(in.dir, failedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			in.mu.Unlock()
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	if err := watcher.Add(in.dir); err != nil {
		watcher.Close()
		in.mu.Unlock()
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}
	in.watcher = watcher
	in.started = true
	in.mu.Unlock()

	in.logger.Info("inbox watching", zap.String("dir", in.dir), zap.String("model", string(in.model)))

	in.drainExisting(ctx)
	go in.run(ctx)
	return nil
}

// drainExisting submits files that were already in the inbox at startup.
func (in *Inbox) drainExisting(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("inbox scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if in.matchExtension(path) {
			in.process(ctx, path)
		}
	}
}

func (in *Inbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			in.handleEvent(ctx, ev)
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				in.logger.Debug("inbox watch error", zap.Error(err))
			}
		}
	}
}

func (in *Inbox) handleEvent(ctx context.Context, ev fsnotify.Event) {
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		if !in.matchExtension(ev.Name) {
			return
		}
		if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
			return
		}
		in.debounceProcess(ctx, ev.Name)
	case fsnotify.Remove, fsnotify.Rename:
		in.cancelDebounce(ev.Name)
	}
}

func (in *Inbox) debounceProcess(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
	}
	in.debounceMap[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.debounceMap, path)
		in.mu.Unlock()
		in.process(ctx, path)
	})
}

func (in *Inbox) cancelDebounce(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
		delete(in.debounceMap, path)
	}
}

// process parses one inbox file and submits it. The file moves to
// processed/ on success, failed/ on any parse or submit error, so the inbox
// itself only ever holds files still awaiting pickup.
func (in *Inbox) process(ctx context.Context, path string) {
	name := filepath.Base(path)

	items, err := parse.BoQFile(path)
	if err == nil && len(items) == 0 {
		err = fmt.Errorf("%w: no inquiry items found", models.ErrValidation)
	}
	if err != nil {
		in.logger.Warn("inbox file rejected", zap.String("file", name), zap.Error(err))
		in.moveTo(path, failedDir)
		return
	}

	jobID, err := in.submitter.Submit(ctx, job.SubmitInput{
		FileName: name,
		Model:    in.model,
		Items:    items,
	})
	if err != nil {
		in.logger.Warn("inbox submit failed", zap.String("file", name), zap.Error(err))
		in.moveTo(path, failedDir)
		return
	}

	in.logger.Info("inbox file submitted",
		zap.String("file", name),
		zap.String("job_id", jobID),
		zap.Int("items", len(items)))
	in.moveTo(path, processedDir)
}

func (in *Inbox) moveTo(path, subdir string) {
	dst := filepath.Join(in.dir, subdir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		// Same name dropped twice; keep both.
		dst = fmt.Sprintf("%s.%d", dst, time.Now().UnixNano())
	}
	if err := os.Rename(path, dst); err != nil {
		in.logger.Warn("inbox move failed", zap.String("path", path), zap.Error(err))
	}
}

func (in *Inbox) matchExtension(path string) bool {
	if len(in.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range in.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// Stop stops watching. Pending debounce timers are cancelled.
func (in *Inbox) Stop() {
	in.stopOnce.Do(func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		close(in.done)
		for path, t := range in.debounceMap {
			t.Stop()
			delete(in.debounceMap, path)
		}
		if in.watcher != nil {
			in.watcher.Close()
		}
		in.started = false
	})
}
