package runs

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus is the lifecycle state of a step within a run.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// ParseRunStatus validates raw input and returns a RunStatus.
func ParseRunStatus(rawInput string) (RunStatus, error) {
	switch RunStatus(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RunStatusPending:
		return RunStatusPending, nil
	case RunStatusRunning:
		return RunStatusRunning, nil
	case RunStatusSuccess:
		return RunStatusSuccess, nil
	case RunStatusFailed:
		return RunStatusFailed, nil
	case RunStatusCancelled:
		return RunStatusCancelled, nil
	default:
		return "", fmt.Errorf("runs: invalid run status %q", rawInput)
	}
}

// Run is one discrete agent task, like "add items to cart", made of ordered
// steps. The dashboard reads these to visualize agent activity.
type Run struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	Name         string     `gorm:"column:name;size:200;not null"`
	Description  string     `gorm:"column:description;type:text"`
	Platform     string     `gorm:"column:platform;size:50;not null;index"`
	Status       string     `gorm:"column:status;size:20;not null;default:'pending'"`
	ErrorMessage string     `gorm:"column:error_message;type:text"`
	MetadataJSON string     `gorm:"column:metadata_json;type:text"`
	StartedAt    time.Time  `gorm:"column:started_at;not null;index"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	DurationMs   *int64     `gorm:"column:duration_ms"`
	Steps        []Step     `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Run) TableName() string {
	return "agent_runs"
}

// Step is one unit of work inside a run, optionally with a screenshot of
// the browser state at completion.
type Step struct {
	ID             string     `gorm:"column:id;primaryKey;size:190;not null"`
	RunID          string     `gorm:"column:run_id;size:190;not null;index:idx_steps_run_seq,priority:1"`
	Seq            int        `gorm:"column:seq;not null;index:idx_steps_run_seq,priority:2"`
	Name           string     `gorm:"column:name;size:200;not null"`
	Description    string     `gorm:"column:description;type:text"`
	Status         string     `gorm:"column:status;size:20;not null;default:'pending'"`
	ScreenshotPath string     `gorm:"column:screenshot_path;size:512"`
	ErrorMessage   string     `gorm:"column:error_message;type:text"`
	MetadataJSON   string     `gorm:"column:metadata_json;type:text"`
	StartedAt      time.Time  `gorm:"column:started_at;not null"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	DurationMs     *int64     `gorm:"column:duration_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Step) TableName() string {
	return "agent_run_steps"
}
