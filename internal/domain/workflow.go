package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "PENDING"
	StatusRunning   WorkflowStatus = "RUNNING"
	StatusCompleted WorkflowStatus = "COMPLETED"
	StatusFailed    WorkflowStatus = "FAILED"
)

// WorkflowRecord is the single source of truth for one review job.
// COMPLETED and FAILED are terminal and are never overwritten; every
// writer goes through a conditional update guarded by the status (and,
// for retry bumps, the retry count) it observed.
type WorkflowRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primary_key"`
	Status     WorkflowStatus `gorm:"type:varchar(20);index;default:'PENDING'"`
	RetryCount int            `gorm:"default:0"`

	// GroupKey orders queue messages; it is not business data.
	GroupKey string `gorm:"type:varchar(200);index;not null"`

	// Payload is the trigger event captured at ingestion time, never mutated.
	Payload datatypes.JSON `gorm:"type:jsonb"`

	ErrorMessage string `gorm:"type:text"`

	// WatchdogScheduleName identifies the currently-armed timer, or is
	// empty when none is armed. Bookkeeping only: the watchdog decides
	// from Status and RetryCount, never from this field.
	WatchdogScheduleName string `gorm:"type:varchar(120)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewWorkflowRecord(groupKey string, payload datatypes.JSON) *WorkflowRecord {
	return &WorkflowRecord{
		ID:        uuid.New(),
		Status:    StatusPending,
		GroupKey:  groupKey,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

func (w *WorkflowRecord) IsTerminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}
