package ports

import (
	"context"
	"time"

	"revflow/internal/domain"

	"github.com/google/uuid"
)

// WorkflowStore is the durable record table. Every mutation is a
// conditional update: if the guard no longer holds the store returns
// domain.ErrStaleWrite and the write is discarded by the caller.
type WorkflowStore interface {
	// Create inserts a fresh record. Exactly one record ever exists per
	// workflow ID; a second insert for the same ID is an error.
	Create(ctx context.Context, rec *domain.WorkflowRecord) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error)

	// MarkRunning transitions PENDING/RUNNING -> RUNNING.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// MarkCompleted transitions any non-terminal status -> COMPLETED.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed transitions any non-terminal status -> FAILED and
	// records the error message.
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error

	// BumpRetry writes retry_count = expectedRetryCount + 1 together with
	// the newly-armed timer name, guarded by the retry count and
	// non-terminal status the watchdog observed.
	BumpRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int, scheduleName string) error

	// RecordScheduleName is bookkeeping for early timer cancellation.
	// Best effort: a lost write only costs a harmless late timer fire.
	RecordScheduleName(ctx context.Context, id uuid.UUID, scheduleName string) domain.Advisory
}

// WorkQueue delivers messages at least once, FIFO within a group key,
// never concurrently within a group. A message whose dedup key matches
// one enqueued inside the dedup window is silently dropped.
type WorkQueue interface {
	Enqueue(ctx context.Context, msg domain.QueueMessage, groupKey, dedupKey string) error
}

// QueueConsumer runs handlers against dequeued messages. A handler error
// leaves the message eligible for redelivery.
type QueueConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, msg domain.QueueMessage) error)
}

// TimerService is a durable one-shot scheduler. A timer fires once at
// (or shortly after) fireAt and deletes itself on firing; each Arm
// produces a unique schedule name so a stale name can never cancel the
// wrong timer.
type TimerService interface {
	Arm(ctx context.Context, workflowID uuid.UUID, fireAt time.Time) (scheduleName string, err error)

	// Cancel is best effort; a timer that already fired is gone anyway.
	Cancel(ctx context.Context, scheduleName string) domain.Advisory
}

// AgentInvoker starts the external long-running agent. Fire-and-forget:
// the only observable outcome is accepted (nil) or rejected (error).
type AgentInvoker interface {
	Invoke(ctx context.Context, workflowID uuid.UUID, payload []byte) error
}
