package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/models"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	inputs  []job.SubmitInput
	failAll bool
}

func (f *fakeSubmitter) Submit(_ context.Context, in job.SubmitInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", models.ErrValidation
	}
	f.inputs = append(f.inputs, in)
	return "job_test", nil
}

func (f *fakeSubmitter) submissions() []job.SubmitInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]job.SubmitInput(nil), f.inputs...)
}

const sampleCSV = "Description,Unit,Quantity\nExcavation in soil,m3,120\nConcrete C25,m3,35\n"

func startInbox(t *testing.T, sub Submitter) (string, *Inbox) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "inbox")
	in := NewInbox(dir, models.ModelCohere, []string{".csv", ".xlsx"}, sub,
		WithDebounce(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(in.Stop)
	return dir, in
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestInboxSubmitsDroppedFile(t *testing.T) {
	sub := &fakeSubmitter{}
	dir, _ := startInbox(t, sub)

	path := filepath.Join(dir, "boq.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sub.submissions()) == 1 }, "file submission")

	in := sub.submissions()[0]
	if in.FileName != "boq.csv" {
		t.Errorf("file name = %q", in.FileName)
	}
	if in.Model != models.ModelCohere {
		t.Errorf("model = %q", in.Model)
	}
	if len(in.Items) != 2 {
		t.Errorf("items = %d, want 2", len(in.Items))
	}

	waitFor(t, func() bool {
		return len(listDir(t, filepath.Join(dir, "processed"))) == 1
	}, "file moved to processed")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file still in inbox")
	}
}

func TestInboxRejectsUnparsableFile(t *testing.T) {
	sub := &fakeSubmitter{}
	dir, _ := startInbox(t, sub)

	path := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(path, []byte("Total,,\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return len(listDir(t, filepath.Join(dir, "failed"))) == 1
	}, "file moved to failed")
	if len(sub.submissions()) != 0 {
		t.Errorf("unparsable file was submitted: %+v", sub.submissions())
	}
}

func TestInboxMovesFileWhenSubmitFails(t *testing.T) {
	sub := &fakeSubmitter{failAll: true}
	dir, _ := startInbox(t, sub)

	path := filepath.Join(dir, "boq.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return len(listDir(t, filepath.Join(dir, "failed"))) == 1
	}, "file moved to failed")
}

func TestInboxIgnoresOtherExtensions(t *testing.T) {
	sub := &fakeSubmitter{}
	dir, _ := startInbox(t, sub)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "boq.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sub.submissions()) == 1 }, "csv submission")

	// The txt file stays put, untouched.
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("txt file was moved: %v", err)
	}
}

func TestInboxDrainsExistingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "waiting.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := &fakeSubmitter{}
	in := NewInbox(dir, models.ModelOpenAI, []string{".csv"}, sub,
		WithDebounce(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer in.Stop()

	waitFor(t, func() bool { return len(sub.submissions()) == 1 }, "pre-existing file submission")
	if sub.submissions()[0].FileName != "waiting.csv" {
		t.Errorf("file name = %q", sub.submissions()[0].FileName)
	}
}
