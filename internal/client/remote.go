package client

import (
	"context"
	"errors"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
	"daily-triage/internal/service"
)

// Remote is the server surface the Store talks to. Calls are made on behalf
// of one authenticated user.
type Remote interface {
	Inbox(ctx context.Context) ([]model.Task, error)
	Today(ctx context.Context) ([]model.Task, error)
	Archive(ctx context.Context, limit int, cursor string) (repository.ArchivePage, error)
	Trash(ctx context.Context) ([]model.Task, error)

	Create(ctx context.Context, input service.TaskInput) (*model.Task, error)
	Update(ctx context.Context, id string, patch service.TaskPatch) (*model.Task, error)
	// Transition returns nil for delete.
	Transition(ctx context.Context, id string, ev model.Event) (*model.Task, error)
	ToggleSubtask(ctx context.Context, taskID, subtaskID string) (*model.Subtask, error)
	PerformDailyReset(ctx context.Context) (service.ResetResult, error)
}

// RemoteError is a failed API call. It matches the model sentinel for its
// code, so callers can use errors.Is(err, model.ErrNotFound) and friends.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case "validation":
		return target == model.ErrValidation
	case "not_found":
		return target == model.ErrNotFound
	case "invalid_transition":
		return target == model.ErrInvalidTransition
	case "conflict":
		return target == model.ErrConflict
	case "unauthorized":
		return target == ErrUnauthorized
	}
	return false
}

var ErrUnauthorized = errors.New("unauthorized")

// PlannerRemote adapts an in-process Planner to Remote for a fixed user.
type PlannerRemote struct {
	Planner service.Planner
	UserID  string
}

var _ Remote = PlannerRemote{}

func (r PlannerRemote) Inbox(ctx context.Context) ([]model.Task, error) {
	return r.Planner.Inbox(ctx, r.UserID)
}

func (r PlannerRemote) Today(ctx context.Context) ([]model.Task, error) {
	return r.Planner.Today(ctx, r.UserID)
}

func (r PlannerRemote) Archive(ctx context.Context, limit int, cursor string) (repository.ArchivePage, error) {
	return r.Planner.Archive(ctx, r.UserID, limit, cursor)
}

func (r PlannerRemote) Trash(ctx context.Context) ([]model.Task, error) {
	return r.Planner.Trash(ctx, r.UserID)
}

func (r PlannerRemote) Create(ctx context.Context, input service.TaskInput) (*model.Task, error) {
	return r.Planner.CreateTask(ctx, r.UserID, input)
}

func (r PlannerRemote) Update(ctx context.Context, id string, patch service.TaskPatch) (*model.Task, error) {
	return r.Planner.UpdateTask(ctx, r.UserID, id, patch)
}

func (r PlannerRemote) Transition(ctx context.Context, id string, ev model.Event) (*model.Task, error) {
	return r.Planner.Transition(ctx, r.UserID, id, ev)
}

func (r PlannerRemote) ToggleSubtask(ctx context.Context, taskID, subtaskID string) (*model.Subtask, error) {
	return r.Planner.ToggleSubtask(ctx, r.UserID, taskID, subtaskID)
}

func (r PlannerRemote) PerformDailyReset(ctx context.Context) (service.ResetResult, error) {
	return r.Planner.PerformDailyReset(ctx, r.UserID)
}
