package service

import (
	"context"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
)

// Planner is the operation surface exposed to front-ends. TaskService
// implements it; cache.Lists decorates it.
type Planner interface {
	Inbox(ctx context.Context, userID string) ([]model.Task, error)
	Today(ctx context.Context, userID string) ([]model.Task, error)
	Archive(ctx context.Context, userID string, limit int, cursor string) (repository.ArchivePage, error)
	Trash(ctx context.Context, userID string) ([]model.Task, error)
	GetTask(ctx context.Context, userID, id string) (*model.Task, error)

	CreateTask(ctx context.Context, userID string, input TaskInput) (*model.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (*model.Task, error)
	Transition(ctx context.Context, userID, id string, ev model.Event) (*model.Task, error)
	ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string) (*model.Subtask, error)

	PerformDailyReset(ctx context.Context, userID string) (ResetResult, error)
	ResetAllUsers(ctx context.Context) (FleetReport, error)
}

var _ Planner = (*TaskService)(nil)
