package invoker

import (
	"context"

	"revflow/internal/core/ports"
	"revflow/internal/domain"
	"revflow/internal/log"
	"revflow/internal/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Invoker consumes START/RESUME messages, transitions workflows to
// RUNNING, and fires off the external agent. It never waits for the
// agent's result; the completion-callback API or the watchdog owns the
// terminal transition.
type Invoker struct {
	store ports.WorkflowStore
	agent ports.AgentInvoker
}

func NewInvoker(store ports.WorkflowStore, agent ports.AgentInvoker) *Invoker {
	return &Invoker{store: store, agent: agent}
}

// Handle processes one dequeued message. A returned error signals the
// queue layer to redeliver; a nil return acknowledges the message even
// when the workflow itself was failed (that outcome is durable already).
func (i *Invoker) Handle(ctx context.Context, msg domain.QueueMessage) error {
	logger := log.GetLogger().WithFields(logrus.Fields{
		"workflow_id": msg.WorkflowID,
		"action":      msg.Action,
	})

	if err := msg.Validate(); err != nil {
		// Malformed messages cannot become valid on redelivery.
		logger.WithError(err).Error("dropping invalid queue message")
		return nil
	}

	rec, err := i.store.GetByID(ctx, msg.WorkflowID)
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		logger.Error("message references unknown workflow, dropping")
		return nil
	}
	if err != nil {
		return err // infrastructure: let the queue redeliver
	}

	// Duplicate or late delivery for a finished workflow: idempotent no-op.
	if rec.IsTerminal() {
		logger.WithField("status", rec.Status).Info("workflow already terminal, no-op")
		return nil
	}

	// The payload is immutable, so a structural defect is permanent:
	// fail the workflow without touching the retry budget.
	if _, err := domain.ParseTriggerPayload(rec.Payload); err != nil {
		logger.WithError(err).Error("payload is structurally invalid, failing workflow")
		if failErr := i.store.MarkFailed(ctx, rec.ID, err.Error()); failErr != nil {
			if errors.Is(failErr, domain.ErrStaleWrite) {
				metrics.StaleWrites.Inc()
				logger.Info("workflow reached terminal state concurrently, discarding failure write")
				return nil
			}
			return failErr
		}
		return nil
	}

	if err := i.store.MarkRunning(ctx, rec.ID); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			// A concurrent actor finished the workflow between our read
			// and this write; nothing left to do.
			metrics.StaleWrites.Inc()
			logger.Info("workflow advanced concurrently, discarding RUNNING transition")
			return nil
		}
		return err
	}

	// Fire-and-forget: we only observe whether the call was accepted.
	// A rejection is infrastructure trouble; the message goes back to
	// the queue and the watchdog budget is untouched.
	if err := i.agent.Invoke(ctx, rec.ID, rec.Payload); err != nil {
		logger.WithError(err).Warn("agent invocation rejected, leaving message for redelivery")
		return err
	}

	logger.WithField("retry_count", rec.RetryCount).Info("agent invocation accepted")
	return nil
}
