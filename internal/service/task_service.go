package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
)

const (
	defaultPriority  = 3
	defaultSpiciness = 3
)

// TaskInput represents data required to create a task. A nil Priority or
// Spiciness means the default of 3.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Spiciness   *int       `json:"spiciness,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Subtasks    []string   `json:"subtasks,omitempty"`
}

// TaskPatch lists the editable fields; nil leaves a field unchanged.
// Status is never editable here. On the wire a null deadline sets
// ClearDeadline (see task_patch.go).
type TaskPatch struct {
	Title         *string
	Description   *string
	Priority      *int
	Spiciness     *int
	Deadline      *time.Time
	ClearDeadline bool
}

// TaskService is the lifecycle core: it validates and applies every
// status transition and runs the daily reset before reads that need it.
type TaskService struct {
	store  *repository.Store
	resets *ResetService
	clock  Clock
	cal    Calendar
	log    logrus.FieldLogger
}

func NewTaskService(store *repository.Store, resets *ResetService, clock Clock, cal Calendar, log logrus.FieldLogger) *TaskService {
	return &TaskService{store: store, resets: resets, clock: clock, cal: cal, log: log}
}

func (s *TaskService) Inbox(ctx context.Context, userID string) ([]model.Task, error) {
	if _, err := s.resets.EnsureCurrent(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Tasks.ListInbox(ctx, userID, s.clock.Now())
}

func (s *TaskService) Today(ctx context.Context, userID string) ([]model.Task, error) {
	if _, err := s.resets.EnsureCurrent(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Tasks.ListToday(ctx, userID)
}

func (s *TaskService) Archive(ctx context.Context, userID string, limit int, cursor string) (repository.ArchivePage, error) {
	return s.store.Tasks.ListArchive(ctx, userID, limit, cursor)
}

func (s *TaskService) Trash(ctx context.Context, userID string) ([]model.Task, error) {
	return s.store.Tasks.ListTrash(ctx, userID)
}

func (s *TaskService) GetTask(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.store.Tasks.Find(ctx, userID, id)
}

func (s *TaskService) CreateTask(ctx context.Context, userID string, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	priority, err := ratingOrDefault("priority", input.Priority, defaultPriority)
	if err != nil {
		return nil, err
	}
	spiciness, err := ratingOrDefault("spiciness", input.Spiciness, defaultSpiciness)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	task := model.Task{
		UserID:      userID,
		Title:       title,
		Description: input.Description,
		Priority:    priority,
		Spiciness:   spiciness,
		Status:      model.StatusInbox,
		Deadline:    utcPtr(input.Deadline),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, raw := range input.Subtasks {
		st := strings.TrimSpace(raw)
		if st == "" {
			return nil, &model.ValidationError{Field: "subtasks", Reason: "subtask title must not be empty"}
		}
		task.Subtasks = append(task.Subtasks, model.Subtask{Title: st, Order: i, CreatedAt: now, UpdatedAt: now})
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Users.Ensure(ctx, userID, now); err != nil {
			return err
		}
		return tx.Tasks.Create(ctx, &task)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "task": task.ID}).Debug("task created")
	return &task, nil
}

// UpdateTask patches descriptive fields only.
func (s *TaskService) UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (*model.Task, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return nil, &model.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		patch.Title = &trimmed
	}
	if patch.Priority != nil {
		if err := checkRating("priority", *patch.Priority); err != nil {
			return nil, err
		}
	}
	if patch.Spiciness != nil {
		if err := checkRating("spiciness", *patch.Spiciness); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	var out *model.Task
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		task, err := tx.Tasks.Find(ctx, userID, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			task.Title = *patch.Title
		}
		if patch.Description != nil {
			task.Description = *patch.Description
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.Spiciness != nil {
			task.Spiciness = *patch.Spiciness
		}
		switch {
		case patch.ClearDeadline:
			task.Deadline = nil
		case patch.Deadline != nil:
			task.Deadline = utcPtr(patch.Deadline)
		}
		task.UpdatedAt = now
		if err := tx.Tasks.Save(ctx, task); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TaskService) Accept(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventAccept)
}

func (s *TaskService) Reject(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventReject)
}

// Postpone hides an inbox task until the next local midnight.
func (s *TaskService) Postpone(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventPostpone)
}

func (s *TaskService) Start(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventStart)
}

func (s *TaskService) Pause(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventPause)
}

func (s *TaskService) Complete(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventComplete)
}

// Restore brings a trashed or completed task back to the inbox with its
// time history cleared. The daily reset check runs first.
func (s *TaskService) Restore(ctx context.Context, userID, id string) (*model.Task, error) {
	return s.Transition(ctx, userID, id, model.EventRestore)
}

// DeleteTask removes a trashed task permanently.
func (s *TaskService) DeleteTask(ctx context.Context, userID, id string) error {
	_, err := s.Transition(ctx, userID, id, model.EventDelete)
	return err
}

// Transition applies ev to the task in one transaction. The returned task
// is nil for delete.
func (s *TaskService) Transition(ctx context.Context, userID, id string, ev model.Event) (*model.Task, error) {
	now := s.clock.Now().UTC()
	var out *model.Task
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if ev == model.EventRestore {
			if _, err := s.resets.resetIfDue(ctx, tx, userID, now); err != nil {
				return err
			}
		}

		task, err := tx.Tasks.Find(ctx, userID, id)
		if err != nil {
			return err
		}
		to, err := model.Next(task.Status, ev)
		if err != nil {
			return err
		}

		switch ev {
		case model.EventAccept:
			task.AcceptedAt = &now
		case model.EventReject:
			task.TrashedAt = &now
		case model.EventPostpone:
			until := s.cal.NextMidnight(now).UTC()
			task.PostponedUntil = &until
		case model.EventStart:
			if _, err := BeginSession(ctx, tx.Sessions, task.ID, now); err != nil {
				return err
			}
			task.LastStartedAt = &now
		case model.EventPause:
			active, err := tx.Sessions.Active(ctx, task.ID)
			if err != nil {
				return err
			}
			if active == nil {
				return &model.ConflictError{Reason: "in-progress task has no active session"}
			}
			if err := closeSession(ctx, tx, task, active, now); err != nil {
				return err
			}
			task.LastStartedAt = nil
		case model.EventComplete:
			active, err := tx.Sessions.Active(ctx, task.ID)
			if err != nil {
				return err
			}
			if active != nil {
				if err := closeSession(ctx, tx, task, active, now); err != nil {
					return err
				}
			}
			task.CompletedAt = &now
		case model.EventRestore:
			if err := tx.Sessions.DeleteForTask(ctx, task.ID); err != nil {
				return err
			}
			task.TrashedAt = nil
			task.CompletedAt = nil
			task.LastStartedAt = nil
			task.TotalTimeSpent = 0
		case model.EventDelete:
			return tx.Tasks.Delete(ctx, userID, task.ID)
		}

		task.Status = to
		task.UpdatedAt = now
		if err := tx.Tasks.Save(ctx, task); err != nil {
			return err
		}
		out, err = tx.Tasks.Find(ctx, userID, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "task": id, "event": ev}).Debug("transition applied")
	return out, nil
}

func closeSession(ctx context.Context, tx *repository.Store, task *model.Task, active *model.TimeSession, now time.Time) error {
	d, err := EndSession(active, now)
	if err != nil {
		return err
	}
	if err := tx.Sessions.Save(ctx, active); err != nil {
		return err
	}
	Accumulate(task, d)
	return nil
}

func (s *TaskService) ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string) (*model.Subtask, error) {
	return s.store.Tasks.ToggleSubtask(ctx, userID, taskID, subtaskID, s.clock.Now())
}

// PerformDailyReset runs the calling user's reset; a second call on the
// same day changes nothing.
func (s *TaskService) PerformDailyReset(ctx context.Context, userID string) (ResetResult, error) {
	return s.resets.EnsureCurrent(ctx, userID)
}

func (s *TaskService) ResetAllUsers(ctx context.Context) (FleetReport, error) {
	return s.resets.ResetAllUsers(ctx)
}

func ratingOrDefault(field string, v *int, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	if err := checkRating(field, *v); err != nil {
		return 0, err
	}
	return *v, nil
}

func checkRating(field string, v int) error {
	if v < 1 || v > 5 {
		return &model.ValidationError{Field: field, Reason: "must be between 1 and 5"}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
