package watchdog

import (
	"context"
	"fmt"
	"time"

	"revflow/internal/core/ports"
	"revflow/internal/domain"
	"revflow/internal/log"
	"revflow/internal/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Watchdog handles CHECK_COMPLETION timer fires. A workflow that has not
// reported completion by its deadline is either resumed (with a fresh
// timer and an incremented retry count) or failed once the retry budget
// is spent. All decisions read current durable state, never local
// memory, so duplicate or late fires are harmless.
type Watchdog struct {
	store  ports.WorkflowStore
	queue  ports.WorkQueue
	timers ports.TimerService
	policy domain.RetryPolicy
	delay  time.Duration
}

func NewWatchdog(store ports.WorkflowStore, queue ports.WorkQueue, timers ports.TimerService, policy domain.RetryPolicy, delay time.Duration) *Watchdog {
	return &Watchdog{
		store:  store,
		queue:  queue,
		timers: timers,
		policy: policy,
		delay:  delay,
	}
}

func (w *Watchdog) HandleTimer(ctx context.Context, cb domain.TimerCallback) error {
	logger := log.GetLogger().WithFields(logrus.Fields{
		"workflow_id":   cb.WorkflowID,
		"schedule_name": cb.ScheduleName,
	})

	if cb.Action != domain.ActionCheckCompletion {
		logger.WithField("action", cb.Action).Error("dropping timer callback with unexpected action")
		return nil
	}

	rec, err := w.store.GetByID(ctx, cb.WorkflowID)
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		logger.Error("timer fired for unknown workflow, no-op")
		return nil
	}
	if err != nil {
		return err
	}

	// The timer deleted itself on firing, so a finished workflow needs
	// nothing from us.
	if rec.IsTerminal() {
		metrics.WatchdogFires.WithLabelValues("noop_terminal").Inc()
		logger.WithField("status", rec.Status).Info("workflow already terminal, no-op")
		return nil
	}

	if !w.policy.ShouldRetry(rec.RetryCount) {
		return w.exhaust(ctx, rec, logger)
	}
	return w.resume(ctx, rec, logger)
}

func (w *Watchdog) exhaust(ctx context.Context, rec *domain.WorkflowRecord, logger *logrus.Entry) error {
	msg := fmt.Sprintf("Max retries exceeded: %d watchdog-triggered resumes without completion", rec.RetryCount)
	if err := w.store.MarkFailed(ctx, rec.ID, msg); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			metrics.StaleWrites.Inc()
			logger.Info("workflow finished concurrently, discarding exhaustion write")
			return nil
		}
		return err
	}
	// Terminal now: no new timer, ever.
	metrics.WatchdogFires.WithLabelValues("exhausted").Inc()
	logger.WithField("retry_count", rec.RetryCount).Error("retry budget exhausted, workflow failed")
	return nil
}

func (w *Watchdog) resume(ctx context.Context, rec *domain.WorkflowRecord, logger *logrus.Entry) error {
	attempt := w.policy.NextAttempt(rec.RetryCount)

	msg := domain.QueueMessage{WorkflowID: rec.ID, Action: domain.ActionResume}
	if err := w.queue.Enqueue(ctx, msg, rec.GroupKey, domain.ResumeDedupKey(rec.ID, attempt)); err != nil {
		// The fired timer is gone; re-arm without bumping the retry
		// count so a later fire can retry this escalation.
		logger.WithError(err).Error("failed to enqueue RESUME, re-arming watchdog")
		if name, armErr := w.timers.Arm(ctx, rec.ID, time.Now().Add(w.delay)); armErr != nil {
			logger.WithError(armErr).Error("failed to re-arm watchdog after enqueue failure")
		} else if adv := w.store.RecordScheduleName(ctx, rec.ID, name); adv.Failed() {
			logger.WithError(adv.Err).Warn("failed to record re-armed schedule name")
		}
		return err
	}

	name, err := w.timers.Arm(ctx, rec.ID, time.Now().Add(w.delay))
	if err != nil {
		// Tolerated, same as at ingestion: the RESUME is already out and
		// the agent callback remains the normal completion path.
		logger.WithError(err).Warn("failed to arm next watchdog timer")
		name = ""
	}

	// Retry count and the new timer name land in one conditional write;
	// a crash between "timer armed" and here leaves only a stale
	// schedule name, which is bookkeeping, not a correctness input.
	if err := w.store.BumpRetry(ctx, rec.ID, rec.RetryCount, name); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			// Either the workflow finished concurrently or a duplicate
			// fire already bumped this attempt. The RESUME we enqueued
			// is absorbed by the invoker's terminal-state no-op or by
			// queue dedup.
			metrics.StaleWrites.Inc()
			logger.Info("retry bump lost the race, discarding")
			return nil
		}
		return err
	}

	metrics.WatchdogFires.WithLabelValues("resumed").Inc()
	logger.WithFields(logrus.Fields{
		"attempt":          attempt,
		"next_schedule":    name,
		"previous_retries": rec.RetryCount,
	}).Info("workflow resumed by watchdog")
	return nil
}
