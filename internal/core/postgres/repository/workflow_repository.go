package repository

import (
	"context"

	"revflow/internal/core/ports"
	"revflow/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var nonTerminal = []domain.WorkflowStatus{domain.StatusPending, domain.StatusRunning}

type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates the Postgres-backed workflow store.
func NewWorkflowRepository(db *gorm.DB) ports.WorkflowStore {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) Create(ctx context.Context, rec *domain.WorkflowRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(err, "creating workflow record")
	}
	return nil
}

func (r *workflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	var rec domain.WorkflowRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading workflow record")
	}
	return &rec, nil
}

// MarkRunning is conditional on the record still being PENDING or
// RUNNING. RowsAffected == 0 means a concurrent writer reached a
// terminal state first; the caller discards the write.
func (r *workflowRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Update("status", domain.StatusRunning)
	return conditionalResult(result, "marking workflow running")
}

func (r *workflowRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Update("status", domain.StatusCompleted)
	return conditionalResult(result, "marking workflow completed")
}

func (r *workflowRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_message": errMessage,
		})
	return conditionalResult(result, "marking workflow failed")
}

// BumpRetry writes the incremented retry count and the new timer name in
// one statement, guarded by the retry count the watchdog observed. A
// duplicate watchdog fire for the same attempt loses the guard and is
// discarded.
func (r *workflowRepository) BumpRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int, scheduleName string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ? AND retry_count = ? AND status IN ?", id, expectedRetryCount, nonTerminal).
		Updates(map[string]interface{}{
			"retry_count":            expectedRetryCount + 1,
			"watchdog_schedule_name": scheduleName,
		})
	return conditionalResult(result, "bumping retry count")
}

func (r *workflowRepository) RecordScheduleName(ctx context.Context, id uuid.UUID, scheduleName string) domain.Advisory {
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ?", id).
		Update("watchdog_schedule_name", scheduleName).Error
	return domain.AdvisoryFrom(err)
}

func conditionalResult(result *gorm.DB, op string) error {
	if result.Error != nil {
		return errors.Wrap(result.Error, op)
	}
	if result.RowsAffected == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}
