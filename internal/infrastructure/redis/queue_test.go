package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"revflow/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDedupWindow = time.Minute

func newTestQueue(t *testing.T, maxDeliveries int) (*GroupQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewGroupQueue(client, testDedupWindow, maxDeliveries)
	q.backoff = time.Millisecond
	return q, mr, client
}

func startMsg() domain.QueueMessage {
	return domain.QueueMessage{WorkflowID: uuid.New(), Action: domain.ActionStart}
}

func TestEnqueue_DedupWindowDropsDuplicates(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", "dup-key"))
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", "dup-key"))

	n, err := client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A different dedup key is a different logical message.
	require.NoError(t, q.Enqueue(ctx, startMsg(), "a/b", "other-key"))
	n, err = client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEnqueue_DedupWindowExpires(t *testing.T) {
	q, mr, client := newTestQueue(t, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, startMsg(), "a/b", "dup-key"))
	mr.FastForward(testDedupWindow + time.Second)
	require.NoError(t, q.Enqueue(ctx, startMsg(), "a/b", "dup-key"))

	n, err := client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDrainGroup_DeliversInFIFOOrder(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		msg := startMsg()
		want = append(want, msg.WorkflowID)
		require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))
	}

	var got []uuid.UUID
	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		got = append(got, msg.WorkflowID)
		return nil
	})

	assert.Equal(t, want, got)

	n, err := client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainGroup_HandlerFailureLeavesMessageForRedelivery(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))
	client.Del(ctx, readyKey)

	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		return errors.New("store unavailable")
	})

	// The message survives at the head with the attempt recorded.
	raw, err := client.LIndex(ctx, groupKeyPrefix+"a/b", 0).Result()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, msg.WorkflowID, env.Message.WorkflowID)
	assert.Equal(t, 1, env.Deliveries)

	// The group is re-armed so another consumer can retry.
	ready, err := client.LRange(ctx, readyKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Contains(t, ready, "a/b")

	// Redelivery succeeds once the fault clears.
	var delivered []domain.QueueMessage
	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		delivered = append(delivered, msg)
		return nil
	})
	require.Len(t, delivered, 1)
	assert.Equal(t, msg.WorkflowID, delivered[0].WorkflowID)
}

func TestDrainGroup_DeliveryCapDropsPoisonMessage(t *testing.T) {
	q, _, client := newTestQueue(t, 2)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))

	attempts := 0
	failing := func(ctx context.Context, msg domain.QueueMessage) error {
		attempts++
		return errors.New("poison")
	}

	q.drainGroup(ctx, "a/b", failing)
	q.drainGroup(ctx, "a/b", failing)
	// Third pass exceeds the cap and drops without calling the handler.
	q.drainGroup(ctx, "a/b", failing)

	assert.Equal(t, 2, attempts)
	n, err := client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainGroup_RespectsForeignBusyLock(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))
	require.NoError(t, client.Set(ctx, busyKeyPrefix+"a/b", "other-consumer", busyLockTTL).Err())

	called := false
	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		called = true
		return nil
	})

	assert.False(t, called)

	// The foreign lock is untouched and the message still queued.
	owner, err := client.Get(ctx, busyKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, "other-consumer", owner)
	n, err := client.LLen(ctx, groupKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// A handler that outlives the busy-lock TTL loses the group to another
// consumer; releasing must then leave the new owner's lock in place.
func TestDrainGroup_ReleasesOnlyOwnLock(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))

	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		// Simulate lock expiry plus reacquisition while we were stalled.
		return client.Set(ctx, busyKeyPrefix+"a/b", "other-consumer", busyLockTTL).Err()
	})

	owner, err := client.Get(ctx, busyKeyPrefix+"a/b").Result()
	require.NoError(t, err)
	assert.Equal(t, "other-consumer", owner)
}

func TestDrainGroup_OwnLockIsReleased(t *testing.T) {
	q, _, client := newTestQueue(t, 5)
	ctx := context.Background()

	msg := startMsg()
	require.NoError(t, q.Enqueue(ctx, msg, "a/b", msg.WorkflowID.String()))

	q.drainGroup(ctx, "a/b", func(ctx context.Context, msg domain.QueueMessage) error {
		return nil
	})

	_, err := client.Get(ctx, busyKeyPrefix+"a/b").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
