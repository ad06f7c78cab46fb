package redis

import (
	"context"
	"encoding/json"
	"time"

	"revflow/internal/domain"
	"revflow/internal/log"
	"revflow/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey       = "revflow:queue:ready"
	groupKeyPrefix = "revflow:queue:group:"
	dedupKeyPrefix = "revflow:queue:dedup:"
	busyKeyPrefix  = "revflow:queue:busy:"

	// busyLockTTL bounds how long a crashed consumer can stall a group.
	busyLockTTL = 5 * time.Minute

	failureBackoff = 2 * time.Second
)

// releaseLockScript deletes the busy lock only while we still own it. A
// handler that outlives busyLockTTL loses the lock to another consumer;
// an unconditional Del here would then evict that consumer's lock and
// let a third one into the group.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// envelope wraps a queue message with its delivery bookkeeping. The
// delivery count is persisted before the handler runs, so a crash still
// counts the attempt.
type envelope struct {
	Message    domain.QueueMessage `json:"message"`
	DedupKey   string              `json:"dedup_key"`
	Deliveries int                 `json:"deliveries"`
}

// GroupQueue is a Redis-list work queue with per-group FIFO ordering,
// a deduplication window, and at-least-once delivery. Each group key
// maps to its own list; a ready-list of group keys fans work out to
// consumers, and a per-group busy lock keeps two consumers from ever
// processing the same group concurrently.
type GroupQueue struct {
	client *redis.Client

	consumerID    string
	dedupWindow   time.Duration
	maxDeliveries int
	backoff       time.Duration
}

func NewGroupQueue(client *redis.Client, dedupWindow time.Duration, maxDeliveries int) *GroupQueue {
	return &GroupQueue{
		client:        client,
		consumerID:    uuid.New().String(),
		dedupWindow:   dedupWindow,
		maxDeliveries: maxDeliveries,
		backoff:       failureBackoff,
	}
}

// Enqueue appends the message to its group's list. A message whose dedup
// key was seen inside the dedup window is silently dropped.
func (q *GroupQueue) Enqueue(ctx context.Context, msg domain.QueueMessage, groupKey, dedupKey string) error {
	fresh, err := q.client.SetNX(ctx, dedupKeyPrefix+dedupKey, 1, q.dedupWindow).Result()
	if err != nil {
		return errors.Wrap(err, "reserving dedup key")
	}
	if !fresh {
		log.GetLogger().WithFields(map[string]interface{}{
			"workflow_id": msg.WorkflowID,
			"action":      msg.Action,
			"dedup_key":   dedupKey,
		}).Info("duplicate enqueue dropped")
		return nil
	}

	payload, err := json.Marshal(envelope{Message: msg, DedupKey: dedupKey})
	if err != nil {
		return errors.Wrap(err, "encoding queue message")
	}

	if err := q.client.RPush(ctx, groupKeyPrefix+groupKey, payload).Err(); err != nil {
		return errors.Wrap(err, "pushing message to group list")
	}
	// Extra ready tokens for the same group are harmless: the busy lock
	// serializes consumers and an empty group just no-ops.
	if err := q.client.RPush(ctx, readyKey, groupKey).Err(); err != nil {
		return errors.Wrap(err, "signalling group readiness")
	}
	return nil
}

// Consume blocks on the ready list and drains one group at a time.
// Handler errors leave the message at the head of its list for
// redelivery; only a successful handler (or the delivery cap) removes it.
func (q *GroupQueue) Consume(ctx context.Context, handler func(ctx context.Context, msg domain.QueueMessage) error) {
	logger := log.GetLogger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := q.client.BLPop(ctx, 5*time.Second, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("queue consumer failed to pop ready group")
			time.Sleep(q.backoff)
			continue
		}

		q.drainGroup(ctx, result[1], handler)
	}
}

func (q *GroupQueue) drainGroup(ctx context.Context, groupKey string, handler func(ctx context.Context, msg domain.QueueMessage) error) {
	logger := log.GetLogger().WithField("group_key", groupKey)

	locked, err := q.client.SetNX(ctx, busyKeyPrefix+groupKey, q.consumerID, busyLockTTL).Result()
	if err != nil {
		logger.WithError(err).Error("failed to acquire group lock")
		return
	}
	if !locked {
		// Another consumer owns the group; it will re-signal readiness
		// if messages remain.
		return
	}
	defer func() {
		// Compare-and-delete: only the current owner may release.
		if err := releaseLockScript.Run(ctx, q.client, []string{busyKeyPrefix + groupKey}, q.consumerID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logger.WithError(err).Error("failed to release group lock")
		}
		// Re-arm the group if messages remain (new arrivals, or a failed
		// delivery left at the head).
		if n, err := q.client.LLen(ctx, groupKeyPrefix+groupKey).Result(); err == nil && n > 0 {
			q.client.RPush(ctx, readyKey, groupKey)
		}
	}()

	listKey := groupKeyPrefix + groupKey
	for ctx.Err() == nil {
		raw, err := q.client.LIndex(ctx, listKey, 0).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			logger.WithError(err).Error("failed to peek group head")
			return
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			logger.WithError(err).Error("dropping undecodable queue message")
			q.client.LPop(ctx, listKey)
			continue
		}

		env.Deliveries++
		if env.Deliveries > q.maxDeliveries {
			logger.WithFields(map[string]interface{}{
				"workflow_id": env.Message.WorkflowID,
				"action":      env.Message.Action,
				"deliveries":  env.Deliveries,
			}).Error("message exceeded delivery cap, dropping; watchdog remains responsible for the workflow")
			metrics.QueueDeadLetters.Inc()
			q.client.LPop(ctx, listKey)
			continue
		}

		// Persist the attempt before running the handler so a crash
		// mid-processing still counts against the delivery cap.
		updated, err := json.Marshal(env)
		if err == nil {
			q.client.LSet(ctx, listKey, 0, updated)
		}

		if err := handler(ctx, env.Message); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"workflow_id": env.Message.WorkflowID,
				"action":      env.Message.Action,
				"deliveries":  env.Deliveries,
			}).Warn("handler failed, message left for redelivery")
			time.Sleep(q.backoff)
			return
		}

		// Ack only after the unit of work is durably reflected.
		q.client.LPop(ctx, listKey)
	}
}
