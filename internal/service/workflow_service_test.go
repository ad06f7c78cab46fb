package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"revflow/internal/api/dto"
	"revflow/internal/domain"
	"revflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const watchdogDelay = 65 * time.Minute

func newService(store *testutil.FakeStore, queue *testutil.FakeQueue, timers *testutil.FakeTimers) WorkflowService {
	return NewWorkflowService(store, queue, timers, watchdogDelay)
}

func validIngest() dto.IngestRequest {
	return dto.IngestRequest{
		EventType: "pr.opened",
		Repo:      "a/b",
		Event:     json.RawMessage(`{"number":7}`),
	}
}

func TestIngest_CreatesRecordEnqueuesStartAndArmsTimer(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	before := time.Now()
	rec, err := svc.Ingest(context.Background(), validIngest())
	require.NoError(t, err)

	stored := store.Snapshot(rec.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, "a/b", stored.GroupKey)

	require.Len(t, queue.Enqueued, 1)
	enq := queue.Enqueued[0]
	assert.Equal(t, domain.ActionStart, enq.Msg.Action)
	assert.Equal(t, rec.ID, enq.Msg.WorkflowID)
	assert.Equal(t, "a/b", enq.GroupKey)
	assert.Equal(t, rec.ID.String(), enq.DedupKey)

	require.Len(t, timers.Armed, 1)
	armed := timers.Armed[0]
	assert.Equal(t, rec.ID, armed.WorkflowID)
	assert.WithinDuration(t, before.Add(watchdogDelay), armed.FireAt, 5*time.Second)
	assert.Equal(t, armed.Name, stored.WatchdogScheduleName)
}

func TestIngest_ValidationFailureCreatesNothing(t *testing.T) {
	tests := []struct {
		name string
		req  dto.IngestRequest
	}{
		{"missing event_type", dto.IngestRequest{Repo: "a/b", Event: json.RawMessage(`{}`)}},
		{"missing repo", dto.IngestRequest{EventType: "pr.opened", Event: json.RawMessage(`{}`)}},
		{"missing event", dto.IngestRequest{EventType: "pr.opened", Repo: "a/b"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := testutil.NewFakeStore()
			queue := testutil.NewFakeQueue()
			timers := testutil.NewFakeTimers()
			svc := newService(store, queue, timers)

			_, err := svc.Ingest(context.Background(), tc.req)
			assert.True(t, domain.IsValidationError(err))
			assert.Empty(t, store.Records)
			assert.Empty(t, queue.Enqueued)
			assert.Empty(t, timers.Armed)
		})
	}
}

func TestIngest_EnqueueFailureFailsIngestion(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	queue.EnqueueErr = errors.New("queue unavailable")
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	_, err := svc.Ingest(context.Background(), validIngest())
	require.Error(t, err)

	// The orphaned record must not sit PENDING forever, and no timer is armed.
	require.Len(t, store.Records, 1)
	for _, rec := range store.Records {
		assert.Equal(t, domain.StatusFailed, rec.Status)
	}
	assert.Empty(t, timers.Armed)
}

func TestIngest_TimerArmFailureIsTolerated(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	timers.ArmErr = errors.New("scheduler unavailable")
	svc := newService(store, queue, timers)

	rec, err := svc.Ingest(context.Background(), validIngest())
	require.NoError(t, err)

	assert.Len(t, queue.Enqueued, 1)
	assert.Empty(t, store.Snapshot(rec.ID).WatchdogScheduleName)
}

func TestIngest_ScheduleNameRecordingIsAdvisory(t *testing.T) {
	store := testutil.NewFakeStore()
	store.RecordScheduleErr = errors.New("write lost")
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	_, err := svc.Ingest(context.Background(), validIngest())
	assert.NoError(t, err)
	assert.Len(t, timers.Armed, 1)
}

func TestMarkCompleted_CancelsWatchdogTimer(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	rec := domain.NewWorkflowRecord("a/b", datatypes.JSON(`{}`))
	rec.Status = domain.StatusRunning
	rec.WatchdogScheduleName = "wd-abc"
	store.Put(rec)

	require.NoError(t, svc.MarkCompleted(context.Background(), rec.ID))

	assert.Equal(t, domain.StatusCompleted, store.Snapshot(rec.ID).Status)
	assert.Equal(t, []string{"wd-abc"}, timers.Cancelled)
}

func TestMarkCompleted_TerminalIsIdempotentNoOp(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	rec := domain.NewWorkflowRecord("a/b", datatypes.JSON(`{}`))
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = "Max retries exceeded"
	store.Put(rec)

	require.NoError(t, svc.MarkCompleted(context.Background(), rec.ID))

	// The earlier terminal state survives.
	stored := store.Snapshot(rec.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "Max retries exceeded", stored.ErrorMessage)
}

func TestMarkFailed_RecordsErrorMessage(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	svc := newService(store, queue, timers)

	rec := domain.NewWorkflowRecord("a/b", datatypes.JSON(`{}`))
	rec.Status = domain.StatusRunning
	store.Put(rec)

	require.NoError(t, svc.MarkFailed(context.Background(), rec.ID, "agent blew up"))

	stored := store.Snapshot(rec.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "agent blew up", stored.ErrorMessage)
}

func TestMarkCompleted_UnknownWorkflow(t *testing.T) {
	svc := newService(testutil.NewFakeStore(), testutil.NewFakeQueue(), testutil.NewFakeTimers())

	err := svc.MarkCompleted(context.Background(), domain.NewWorkflowRecord("a/b", nil).ID)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestMarkCompleted_TimerCancelFailureIsAdvisory(t *testing.T) {
	store := testutil.NewFakeStore()
	queue := testutil.NewFakeQueue()
	timers := testutil.NewFakeTimers()
	timers.CancelErr = errors.New("timer gone")
	svc := newService(store, queue, timers)

	rec := domain.NewWorkflowRecord("a/b", datatypes.JSON(`{}`))
	rec.Status = domain.StatusRunning
	rec.WatchdogScheduleName = "wd-abc"
	store.Put(rec)

	assert.NoError(t, svc.MarkCompleted(context.Background(), rec.ID))
	assert.Equal(t, domain.StatusCompleted, store.Snapshot(rec.ID).Status)
}
