package runs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrRunNotFound indicates the run id has no record.
	ErrRunNotFound = errors.New("runs: run not found")
	// ErrStepNotFound indicates the step id has no record.
	ErrStepNotFound = errors.New("runs: step not found")
)

const defaultListLimit = 50

// IDProvider issues identifiers for runs and steps.
type IDProvider interface {
	NewID() (string, error)
}

// TrackerConfig describes the dependencies of the run tracker.
type TrackerConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     IDProvider
	ScreenshotsDir string
	Logger         *zap.Logger
}

// Tracker records agent runs and their steps, persisting step screenshots
// to the screenshots directory.
type Tracker struct {
	db             *gorm.DB
	clock          func() time.Time
	idProvider     IDProvider
	screenshotsDir string
	logger         *zap.Logger
}

// NewTracker constructs the run tracker and ensures the screenshots
// directory exists.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("runs: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("runs: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	screenshotsDir := cfg.ScreenshotsDir
	if screenshotsDir != "" {
		if err := os.MkdirAll(screenshotsDir, 0o755); err != nil {
			return nil, fmt.Errorf("runs: create screenshots dir: %w", err)
		}
	}

	return &Tracker{
		db:             cfg.Database,
		clock:          clock,
		idProvider:     cfg.IDProvider,
		screenshotsDir: screenshotsDir,
		logger:         logger,
	}, nil
}

// StartRun opens a new run in running state.
func (t *Tracker) StartRun(ctx context.Context, name, description, platform string) (Run, error) {
	id, err := t.idProvider.NewID()
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:          id,
		Name:        name,
		Description: description,
		Platform:    platform,
		Status:      string(RunStatusRunning),
		StartedAt:   t.clock().UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&run).Error; err != nil {
		t.logger.Error("failed to create run", zap.String("name", name), zap.Error(err))
		return Run{}, err
	}
	return run, nil
}

// StartStep appends a new running step to a run. Steps are numbered
// sequentially within the run.
func (t *Tracker) StartStep(ctx context.Context, runID, name, description string) (Step, error) {
	var step Step
	txErr := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run Run
		err := tx.Where("id = ?", runID).Take(&run).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&Step{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
			return err
		}

		id, err := t.idProvider.NewID()
		if err != nil {
			return err
		}
		step = Step{
			ID:          id,
			RunID:       runID,
			Seq:         int(count) + 1,
			Name:        name,
			Description: description,
			Status:      string(StepStatusRunning),
			StartedAt:   t.clock().UTC(),
		}
		return tx.Create(&step).Error
	})
	if txErr != nil {
		return Step{}, txErr
	}
	return step, nil
}

// CompleteStep closes a step with a final status, an optional error message
// and an optional screenshot. Screenshot bytes are written under the
// screenshots directory and only the path is stored.
func (t *Tracker) CompleteStep(ctx context.Context, stepID string, status StepStatus, errorMessage string, screenshot []byte) (Step, error) {
	var step Step
	err := t.db.WithContext(ctx).Where("id = ?", stepID).Take(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Step{}, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if err != nil {
		return Step{}, err
	}

	completedAt := t.clock().UTC()
	durationMs := completedAt.Sub(step.StartedAt).Milliseconds()

	updates := map[string]interface{}{
		"status":        string(status),
		"error_message": errorMessage,
		"completed_at":  completedAt,
		"duration_ms":   durationMs,
	}

	if len(screenshot) > 0 && t.screenshotsDir != "" {
		path := filepath.Join(t.screenshotsDir, step.ID+".png")
		if err := os.WriteFile(path, screenshot, 0o644); err != nil {
			// A lost screenshot should not lose the step outcome.
			t.logger.Warn("failed to persist screenshot", zap.String("step_id", step.ID), zap.Error(err))
		} else {
			updates["screenshot_path"] = path
		}
	}

	if err := t.db.WithContext(ctx).Model(&Step{}).Where("id = ?", stepID).Updates(updates).Error; err != nil {
		return Step{}, err
	}

	if err := t.db.WithContext(ctx).Where("id = ?", stepID).Take(&step).Error; err != nil {
		return Step{}, err
	}
	return step, nil
}

// CompleteRun closes a run with a final status and optional error message.
func (t *Tracker) CompleteRun(ctx context.Context, runID string, status RunStatus, errorMessage string) (Run, error) {
	var run Run
	err := t.db.WithContext(ctx).Where("id = ?", runID).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}

	completedAt := t.clock().UTC()
	durationMs := completedAt.Sub(run.StartedAt).Milliseconds()

	updates := map[string]interface{}{
		"status":        string(status),
		"error_message": errorMessage,
		"completed_at":  completedAt,
		"duration_ms":   durationMs,
	}
	if err := t.db.WithContext(ctx).Model(&Run{}).Where("id = ?", runID).Updates(updates).Error; err != nil {
		return Run{}, err
	}

	if err := t.db.WithContext(ctx).Where("id = ?", runID).Take(&run).Error; err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns recent runs, most recent first, without their steps.
func (t *Tracker) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var runs []Run
	if err := t.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one run with its steps in sequence order.
func (t *Tracker) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := t.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where("id = ?", runID).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}
