package service

import (
	"context"
	"encoding/json"
	"time"

	"revflow/internal/api/dto"
	"revflow/internal/core/ports"
	"revflow/internal/domain"
	"revflow/internal/log"
	"revflow/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type WorkflowService interface {
	// Ingest accepts a trigger event and returns once the workflow
	// record, the START message, and (best effort) the watchdog timer
	// are durable. It never waits for processing.
	Ingest(ctx context.Context, req dto.IngestRequest) (*domain.WorkflowRecord, error)

	Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error)

	// MarkCompleted and MarkFailed are the completion-callback API used
	// by the external agent. Both are idempotent: a terminal record is
	// left untouched.
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error
}

type workflowService struct {
	store         ports.WorkflowStore
	queue         ports.WorkQueue
	timers        ports.TimerService
	watchdogDelay time.Duration
}

func NewWorkflowService(store ports.WorkflowStore, queue ports.WorkQueue, timers ports.TimerService, watchdogDelay time.Duration) WorkflowService {
	return &workflowService{
		store:         store,
		queue:         queue,
		timers:        timers,
		watchdogDelay: watchdogDelay,
	}
}

func (s *workflowService) Ingest(ctx context.Context, req dto.IngestRequest) (*domain.WorkflowRecord, error) {
	logger := log.GetLogger()

	if err := validateIngest(req); err != nil {
		return nil, err
	}

	// The payload is captured verbatim and never mutated afterwards.
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "capturing trigger payload")
	}

	rec := domain.NewWorkflowRecord(req.Repo, datatypes.JSON(payload))

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	msg := domain.QueueMessage{WorkflowID: rec.ID, Action: domain.ActionStart}
	if err := s.queue.Enqueue(ctx, msg, rec.GroupKey, domain.StartDedupKey(rec.ID)); err != nil {
		// The record exists but the START never made it out; fail the
		// workflow so it cannot sit PENDING forever, and surface the
		// error to the caller.
		if failErr := s.store.MarkFailed(ctx, rec.ID, "ingestion failed: could not enqueue start message"); failErr != nil {
			logger.WithError(failErr).WithField("workflow_id", rec.ID).Error("could not fail workflow after enqueue error")
		}
		return nil, err
	}

	// Timer arming is tolerated to fail: a missing watchdog only matters
	// if the agent also never reports back.
	name, err := s.timers.Arm(ctx, rec.ID, time.Now().Add(s.watchdogDelay))
	if err != nil {
		logger.WithError(err).WithField("workflow_id", rec.ID).Warn("failed to arm watchdog timer at ingestion")
	} else {
		if adv := s.store.RecordScheduleName(ctx, rec.ID, name); adv.Failed() {
			// Worst case the timer fires against a finished workflow,
			// which the watchdog treats as a no-op.
			logger.WithError(adv.Err).WithField("workflow_id", rec.ID).Warn("failed to record watchdog schedule name")
		}
		rec.WatchdogScheduleName = name
	}

	metrics.WorkflowsIngested.Inc()
	logger.WithFields(map[string]interface{}{
		"workflow_id": rec.ID,
		"group_key":   rec.GroupKey,
		"event_type":  req.EventType,
	}).Info("workflow ingested")

	return rec, nil
}

func (s *workflowService) Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	return s.store.GetByID(ctx, id)
}

func (s *workflowService) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	logger := log.GetLogger().WithField("workflow_id", id)

	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.MarkCompleted(ctx, id); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			metrics.StaleWrites.Inc()
			logger.Info("completion callback for already-terminal workflow, no-op")
			return nil
		}
		return err
	}

	s.cancelWatchdog(ctx, rec, logger)
	logger.Info("workflow completed")
	return nil
}

func (s *workflowService) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error {
	logger := log.GetLogger().WithField("workflow_id", id)

	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.MarkFailed(ctx, id, errMessage); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			metrics.StaleWrites.Inc()
			logger.Info("failure callback for already-terminal workflow, no-op")
			return nil
		}
		return err
	}

	s.cancelWatchdog(ctx, rec, logger)
	logger.WithField("error_message", errMessage).Info("workflow failed by agent callback")
	return nil
}

func (s *workflowService) cancelWatchdog(ctx context.Context, rec *domain.WorkflowRecord, logger *logrus.Entry) {
	if rec.WatchdogScheduleName == "" {
		return
	}
	if adv := s.timers.Cancel(ctx, rec.WatchdogScheduleName); adv.Failed() {
		logger.WithError(adv.Err).Warn("failed to cancel watchdog timer")
	}
}

func validateIngest(req dto.IngestRequest) error {
	if req.EventType == "" {
		return domain.NewValidationError("event_type is required")
	}
	if req.Repo == "" {
		return domain.NewValidationError("repo is required")
	}
	if len(req.Event) == 0 {
		return domain.NewValidationError("event is required")
	}
	return nil
}
