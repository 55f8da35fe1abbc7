package runs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type seqIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type steppingClock struct {
	mu    sync.Mutex
	base  time.Time
	steps int
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
	return c.base.Add(time.Duration(c.steps) * time.Second)
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()

	dsn := fmt.Sprintf("file:runs_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Run{}, &Step{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &steppingClock{base: time.Unix(1756600000, 0).UTC()}
	tracker, err := NewTracker(TrackerConfig{
		Database:       db,
		Clock:          clock.Now,
		IDProvider:     &seqIDGenerator{},
		ScreenshotsDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	return tracker
}

func TestRunLifecycle(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	run, err := tracker.StartRun(ctx, "Add items to cart", "2 items", "amazon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != string(RunStatusRunning) {
		t.Fatalf("expected running status, got %s", run.Status)
	}

	step, err := tracker.StartStep(ctx, run.ID, "navigate", "open product page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Seq != 1 {
		t.Fatalf("expected first step seq 1, got %d", step.Seq)
	}

	completed, err := tracker.CompleteStep(ctx, step.ID, StepStatusSuccess, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != string(StepStatusSuccess) {
		t.Fatalf("expected success status, got %s", completed.Status)
	}
	if completed.DurationMs == nil || *completed.DurationMs <= 0 {
		t.Fatalf("expected positive duration, got %v", completed.DurationMs)
	}

	finished, err := tracker.CompleteRun(ctx, run.ID, RunStatusSuccess, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finished.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
}

func TestStepsAreSequencedPerRun(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	run, err := tracker.StartRun(ctx, "login", "", "amazon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, err := tracker.StartRun(ctx, "checkout", "", "swiggy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := tracker.StartStep(ctx, run.ID, fmt.Sprintf("step-%d", i), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	otherStep, err := tracker.StartStep(ctx, other.ID, "first", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherStep.Seq != 1 {
		t.Fatalf("sequences must be per run, got %d", otherStep.Seq)
	}

	loaded, err := tracker.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(loaded.Steps))
	}
	for i, step := range loaded.Steps {
		if step.Seq != i+1 {
			t.Fatalf("steps out of order: %+v", loaded.Steps)
		}
	}
}

func TestCompleteStepPersistsScreenshot(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	run, err := tracker.StartRun(ctx, "verify", "", "amazon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step, err := tracker.StartStep(ctx, run.ID, "screenshot", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := []byte{0x89, 'P', 'N', 'G'}
	completed, err := tracker.CompleteStep(ctx, step.ID, StepStatusSuccess, "", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.ScreenshotPath == "" {
		t.Fatalf("expected screenshot path")
	}
	if filepath.Base(completed.ScreenshotPath) != step.ID+".png" {
		t.Fatalf("unexpected screenshot filename %q", completed.ScreenshotPath)
	}
	stored, err := os.ReadFile(completed.ScreenshotPath)
	if err != nil {
		t.Fatalf("failed to read screenshot: %v", err)
	}
	if string(stored) != string(payload) {
		t.Fatalf("screenshot bytes mismatch")
	}
}

func TestListRunsMostRecentFirst(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := tracker.StartRun(ctx, fmt.Sprintf("run-%d", i), "", "amazon"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	runs, err := tracker.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected bounded list, got %d", len(runs))
	}
	if runs[0].Name != "run-3" {
		t.Fatalf("expected most recent run first, got %s", runs[0].Name)
	}
}

func TestUnknownRunAndStep(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := tracker.StartStep(ctx, "missing", "x", ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := tracker.CompleteStep(ctx, "missing", StepStatusFailed, "", nil); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
}
