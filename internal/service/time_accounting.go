package service

import (
	"context"
	"math"
	"time"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
)

// BeginSession opens a running session for the task.
func BeginSession(ctx context.Context, sessions *repository.SessionRepository, taskID string, now time.Time) (*model.TimeSession, error) {
	active, err := sessions.Active(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &model.ConflictError{Reason: "task already has an active session"}
	}
	s := &model.TimeSession{TaskID: taskID, StartedAt: now.UTC()}
	if err := sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EndSession closes s at now and returns its whole-second duration.
// Clock skew that puts now before the start counts as zero.
func EndSession(s *model.TimeSession, now time.Time) (int, error) {
	if s == nil || !s.IsActive() {
		return 0, &model.NotFoundError{Entity: "active session"}
	}
	elapsed := math.Floor(now.Sub(s.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	d := int(elapsed)
	ended := now.UTC()
	s.EndedAt = &ended
	s.Duration = &d
	return d, nil
}

// Accumulate adds d seconds to the task's total. Negative values are ignored.
func Accumulate(task *model.Task, d int) {
	if d > 0 {
		task.TotalTimeSpent += d
	}
}
