package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"revflow/internal/domain"

	"github.com/google/uuid"
)

// FakeStore is an in-memory ports.WorkflowStore with the same
// conditional-write semantics as the Postgres implementation.
type FakeStore struct {
	mu      sync.Mutex
	Records map[uuid.UUID]*domain.WorkflowRecord

	CreateErr         error
	GetErr            error
	MarkRunningErr    error
	MarkFailedErr     error
	BumpRetryErr      error
	RecordScheduleErr error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Records: make(map[uuid.UUID]*domain.WorkflowRecord)}
}

func (s *FakeStore) Put(rec *domain.WorkflowRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.Records[rec.ID] = &cp
}

func (s *FakeStore) Snapshot(id uuid.UUID) *domain.WorkflowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.Records[id]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (s *FakeStore) Create(ctx context.Context, rec *domain.WorkflowRecord) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.Records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	cp := *rec
	s.Records[rec.ID] = &cp
	return nil
}

func (s *FakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec := s.Snapshot(id)
	if rec == nil {
		return nil, domain.ErrWorkflowNotFound
	}
	return rec, nil
}

func (s *FakeStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	if s.MarkRunningErr != nil {
		return s.MarkRunningErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[id]
	if !ok || rec.IsTerminal() {
		return domain.ErrStaleWrite
	}
	rec.Status = domain.StatusRunning
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *FakeStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[id]
	if !ok || rec.IsTerminal() {
		return domain.ErrStaleWrite
	}
	rec.Status = domain.StatusCompleted
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *FakeStore) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error {
	if s.MarkFailedErr != nil {
		return s.MarkFailedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[id]
	if !ok || rec.IsTerminal() {
		return domain.ErrStaleWrite
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = errMessage
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *FakeStore) BumpRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int, scheduleName string) error {
	if s.BumpRetryErr != nil {
		return s.BumpRetryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[id]
	if !ok || rec.IsTerminal() || rec.RetryCount != expectedRetryCount {
		return domain.ErrStaleWrite
	}
	rec.RetryCount = expectedRetryCount + 1
	rec.WatchdogScheduleName = scheduleName
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *FakeStore) RecordScheduleName(ctx context.Context, id uuid.UUID, scheduleName string) domain.Advisory {
	if s.RecordScheduleErr != nil {
		return domain.AdvisoryFrom(s.RecordScheduleErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.Records[id]; ok {
		rec.WatchdogScheduleName = scheduleName
	}
	return domain.AdvisoryOK()
}

type EnqueuedMessage struct {
	Msg      domain.QueueMessage
	GroupKey string
	DedupKey string
}

// FakeQueue records enqueues and honors deduplication the way the real
// queue does inside its window.
type FakeQueue struct {
	mu       sync.Mutex
	Enqueued []EnqueuedMessage
	Dropped  int
	dedup    map[string]bool

	EnqueueErr error
}

func NewFakeQueue() *FakeQueue {
	return &FakeQueue{dedup: make(map[string]bool)}
}

func (q *FakeQueue) Enqueue(ctx context.Context, msg domain.QueueMessage, groupKey, dedupKey string) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dedup[dedupKey] {
		q.Dropped++
		return nil
	}
	q.dedup[dedupKey] = true
	q.Enqueued = append(q.Enqueued, EnqueuedMessage{Msg: msg, GroupKey: groupKey, DedupKey: dedupKey})
	return nil
}

type ArmedTimer struct {
	WorkflowID uuid.UUID
	FireAt     time.Time
	Name       string
}

type FakeTimers struct {
	mu        sync.Mutex
	Armed     []ArmedTimer
	Cancelled []string

	ArmErr    error
	CancelErr error
}

func NewFakeTimers() *FakeTimers {
	return &FakeTimers{}
}

func (t *FakeTimers) Arm(ctx context.Context, workflowID uuid.UUID, fireAt time.Time) (string, error) {
	if t.ArmErr != nil {
		return "", t.ArmErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	name := fmt.Sprintf("timer-%d", len(t.Armed)+1)
	t.Armed = append(t.Armed, ArmedTimer{WorkflowID: workflowID, FireAt: fireAt, Name: name})
	return name, nil
}

func (t *FakeTimers) Cancel(ctx context.Context, scheduleName string) domain.Advisory {
	if t.CancelErr != nil {
		return domain.AdvisoryFrom(t.CancelErr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Cancelled = append(t.Cancelled, scheduleName)
	return domain.AdvisoryOK()
}

type FakeAgent struct {
	mu          sync.Mutex
	Invocations []uuid.UUID

	InvokeErr error
}

func NewFakeAgent() *FakeAgent {
	return &FakeAgent{}
}

func (a *FakeAgent) Invoke(ctx context.Context, workflowID uuid.UUID, payload []byte) error {
	if a.InvokeErr != nil {
		return a.InvokeErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Invocations = append(a.Invocations, workflowID)
	return nil
}
