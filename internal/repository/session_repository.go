package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"daily-triage/internal/model"
)

// SessionRepository stores time sessions. Callers check task ownership first.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Active returns the running session of a task, or nil when there is none.
func (r *SessionRepository) Active(ctx context.Context, taskID string) (*model.TimeSession, error) {
	var s model.TimeSession
	err := r.db.WithContext(ctx).Where("task_id = ? AND ended_at IS NULL", taskID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &s, nil
}

// Create inserts a session. A second running session for the same task
// violates a unique index and surfaces as a ConflictError.
func (r *SessionRepository) Create(ctx context.Context, s *model.TimeSession) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &model.ConflictError{Reason: "task already has an active session"}
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Save(ctx context.Context, s *model.TimeSession) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteForTask(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&model.TimeSession{}).Error; err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}
