package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"revflow/internal/domain"
	"revflow/internal/log"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	timerScheduleKey = "revflow:timers:schedule"
	timerPayloadKey  = "revflow:timers:payload"

	// timerRetryDelay reschedules a fire whose callback hit a transient
	// failure. The watchdog is the sole recovery mechanism for stalled
	// workflows, so a fire must never be lost to a store hiccup.
	timerRetryDelay = 30 * time.Second
)

// TimerService is a durable one-shot scheduler on a Redis sorted set:
// member = schedule name, score = fire time. A poller claims due timers
// with ZRem, which both delivers and deletes in one step, so a fired
// timer is gone and a Cancel of it is a harmless no-op.
type TimerService struct {
	client       *redis.Client
	pollInterval time.Duration
}

func NewTimerService(client *redis.Client, pollInterval time.Duration) *TimerService {
	return &TimerService{client: client, pollInterval: pollInterval}
}

// Arm schedules a CHECK_COMPLETION callback for fireAt. Every arm gets a
// unique schedule name; old timers are superseded by new names, never
// reused.
func (t *TimerService) Arm(ctx context.Context, workflowID uuid.UUID, fireAt time.Time) (string, error) {
	name := fmt.Sprintf("wd-%s-%s", workflowID, uuid.New().String()[:8])

	payload, err := json.Marshal(domain.TimerCallback{
		WorkflowID:   workflowID,
		Action:       domain.ActionCheckCompletion,
		ScheduleName: name,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding timer callback")
	}

	if err := t.client.HSet(ctx, timerPayloadKey, name, payload).Err(); err != nil {
		return "", errors.Wrap(err, "storing timer payload")
	}
	if err := t.client.ZAdd(ctx, timerScheduleKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: name,
	}).Err(); err != nil {
		t.client.HDel(ctx, timerPayloadKey, name)
		return "", errors.Wrap(err, "scheduling timer")
	}
	return name, nil
}

// Cancel removes a timer that has not fired yet. Best effort by
// contract: the watchdog's terminal-status check makes a late fire
// harmless, so a failed cancel costs nothing but a no-op callback.
func (t *TimerService) Cancel(ctx context.Context, scheduleName string) domain.Advisory {
	if err := t.client.ZRem(ctx, timerScheduleKey, scheduleName).Err(); err != nil {
		return domain.AdvisoryFrom(errors.Wrap(err, "removing timer from schedule"))
	}
	if err := t.client.HDel(ctx, timerPayloadKey, scheduleName).Err(); err != nil {
		return domain.AdvisoryFrom(errors.Wrap(err, "removing timer payload"))
	}
	return domain.AdvisoryOK()
}

// Poll dispatches due timers until the context is cancelled. Dispatch is
// at-most-once normally (the ZRem claim races are winner-takes-all), but
// callbacks must still tolerate duplicates per the watchdog's own
// idempotency rules.
func (t *TimerService) Poll(ctx context.Context, handler func(ctx context.Context, cb domain.TimerCallback) error) {
	logger := log.GetLogger()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("timer poller shutting down")
			return
		case <-ticker.C:
			t.fireDue(ctx, handler)
		}
	}
}

func (t *TimerService) fireDue(ctx context.Context, handler func(ctx context.Context, cb domain.TimerCallback) error) {
	logger := log.GetLogger()

	now := strconv.FormatInt(time.Now().Unix(), 10)
	names, err := t.client.ZRangeByScore(ctx, timerScheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		logger.WithError(err).Error("timer poller failed to read schedule")
		return
	}

	for _, name := range names {
		// ZRem is the claim: exactly one poller wins, and the timer is
		// deleted by the act of firing.
		removed, err := t.client.ZRem(ctx, timerScheduleKey, name).Result()
		if err != nil {
			logger.WithError(err).WithField("schedule_name", name).Error("failed to claim timer")
			continue
		}
		if removed == 0 {
			continue
		}

		// The payload outlives the claim: it is deleted only once the
		// callback has run, so a failed dispatch can be rescheduled.
		raw, err := t.client.HGet(ctx, timerPayloadKey, name).Result()
		if err != nil {
			logger.WithError(err).WithField("schedule_name", name).Error("fired timer has no payload")
			continue
		}

		var cb domain.TimerCallback
		if err := json.Unmarshal([]byte(raw), &cb); err != nil {
			logger.WithError(err).WithField("schedule_name", name).Error("dropping undecodable timer payload")
			t.client.HDel(ctx, timerPayloadKey, name)
			continue
		}

		if err := handler(ctx, cb); err != nil {
			// Put the claimed timer back with a short delay. Duplicate
			// fires are harmless by the callback's own idempotency
			// rules; a lost fire can orphan a workflow forever.
			logger.WithError(err).WithFields(map[string]interface{}{
				"workflow_id":   cb.WorkflowID,
				"schedule_name": name,
			}).Error("timer callback failed, rescheduling fire")
			if err := t.client.ZAdd(ctx, timerScheduleKey, redis.Z{
				Score:  float64(time.Now().Add(timerRetryDelay).Unix()),
				Member: name,
			}).Err(); err != nil {
				logger.WithError(err).WithField("schedule_name", name).Error("failed to reschedule fire")
			}
			continue
		}

		t.client.HDel(ctx, timerPayloadKey, name)
	}
}
