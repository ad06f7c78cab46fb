package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type Action string

const (
	ActionStart           Action = "START"
	ActionResume          Action = "RESUME"
	ActionCheckCompletion Action = "CHECK_COMPLETION"
)

// QueueMessage is the body of every work-queue message. The dedup key
// and group key travel as queue metadata, not in the body.
type QueueMessage struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Action     Action    `json:"action"`
}

func (m QueueMessage) Validate() error {
	if m.WorkflowID == uuid.Nil {
		return NewValidationError("workflow_id is required")
	}
	if m.Action != ActionStart && m.Action != ActionResume {
		return NewValidationError(fmt.Sprintf("unsupported queue action %q", m.Action))
	}
	return nil
}

// TimerCallback is delivered to the watchdog when its timer fires.
type TimerCallback struct {
	WorkflowID   uuid.UUID `json:"workflow_id"`
	Action       Action    `json:"action"`
	ScheduleName string    `json:"schedule_name"`
}

// StartDedupKey makes a retried ingestion of the same workflow a queue-level no-op.
func StartDedupKey(workflowID uuid.UUID) string {
	return workflowID.String()
}

// ResumeDedupKey is unique per escalation: repeated watchdog fires for
// the same retry attempt collapse, while each new attempt gets a fresh key.
func ResumeDedupKey(workflowID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s-resume-%d", workflowID, attempt)
}
