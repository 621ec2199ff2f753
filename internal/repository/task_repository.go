package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"daily-triage/internal/model"
)

const (
	DefaultArchiveLimit = 50
	MaxArchiveLimit     = 100
)

// ArchivePage is one page of completed tasks. NextCursor is the id of the
// last task on the page and is empty when HasNext is false.
type ArchivePage struct {
	Tasks      []model.Task `json:"tasks"`
	NextCursor string       `json:"nextCursor,omitempty"`
	HasNext    bool         `json:"hasNext"`
}

// TaskRepository handles CRUD for tasks and subtasks. Every task lookup is
// scoped by user: a task owned by someone else is reported as not found.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// todayRankSQL mirrors model.Status.TodayRank.
var todayRankSQL = fmt.Sprintf("CASE status WHEN '%s' THEN 0 WHEN '%s' THEN 1 ELSE 2 END",
	model.StatusInProgress, model.StatusPaused)

func orderedSubtasks(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func newestSessions(db *gorm.DB) *gorm.DB {
	return db.Order("started_at DESC").Order("id DESC")
}

// ListInbox returns inbox tasks not hidden by a future postponement.
func (r *TaskRepository) ListInbox(ctx context.Context, userID string, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Preload("Subtasks", orderedSubtasks).
		Where("user_id = ? AND status = ?", userID, model.StatusInbox).
		Where("postponed_until IS NULL OR postponed_until <= ?", now.UTC()).
		Order("priority DESC").
		Order("deadline IS NULL").
		Order("deadline ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return tasks, nil
}

// ListToday returns accepted work: in progress first, then paused, then untouched.
func (r *TaskRepository) ListToday(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Preload("Subtasks", orderedSubtasks).
		Preload("TimeSessions", newestSessions).
		Where("user_id = ? AND status IN ?", userID,
			[]model.Status{model.StatusToday, model.StatusInProgress, model.StatusPaused}).
		Order(todayRankSQL).
		Order("priority DESC").
		Order("accepted_at IS NULL").
		Order("accepted_at ASC").
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list today: %w", err)
	}
	return tasks, nil
}

// ListArchive pages through completed tasks, newest completion first.
// cursor is the id of the last task of the previous page.
func (r *TaskRepository) ListArchive(ctx context.Context, userID string, limit int, cursor string) (ArchivePage, error) {
	if limit == 0 {
		limit = DefaultArchiveLimit
	}
	if limit < 1 || limit > MaxArchiveLimit {
		return ArchivePage{}, &model.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxArchiveLimit)}
	}

	db := r.db.WithContext(ctx)
	q := db.
		Preload("Subtasks", orderedSubtasks).
		Preload("TimeSessions", newestSessions).
		Where("user_id = ? AND status = ?", userID, model.StatusCompleted)

	if cursor != "" {
		var last model.Task
		err := db.Select("id", "completed_at").
			Where("user_id = ? AND id = ? AND status = ?", userID, cursor, model.StatusCompleted).
			First(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ArchivePage{}, &model.ValidationError{Field: "cursor", Reason: "unknown cursor"}
		}
		if err != nil {
			return ArchivePage{}, fmt.Errorf("list archive: %w", err)
		}
		if last.CompletedAt != nil {
			q = q.Where("completed_at < ? OR (completed_at = ? AND id < ?)", *last.CompletedAt, *last.CompletedAt, last.ID)
		} else {
			q = q.Where("id < ?", last.ID)
		}
	}

	var tasks []model.Task
	err := q.Order("completed_at DESC").Order("id DESC").Limit(limit + 1).Find(&tasks).Error
	if err != nil {
		return ArchivePage{}, fmt.Errorf("list archive: %w", err)
	}

	page := ArchivePage{Tasks: tasks}
	if len(tasks) > limit {
		page.Tasks = tasks[:limit]
		page.HasNext = true
		page.NextCursor = page.Tasks[limit-1].ID
	}
	return page, nil
}

// ListTrash returns trashed tasks, most recently trashed first.
func (r *TaskRepository) ListTrash(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusTrash).
		Order("trashed_at DESC").
		Order("id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	return tasks, nil
}

// Create inserts the task together with its subtasks.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Find loads a task with its subtasks and sessions.
func (r *TaskRepository) Find(ctx context.Context, userID, id string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Preload("Subtasks", orderedSubtasks).
		Preload("TimeSessions", newestSessions).
		Where("user_id = ? AND id = ?", userID, id).
		First(&task).Error
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return &task, nil
}

// Save writes every column of the task row. Subtasks and sessions are left alone.
func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(task).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// Delete removes the task, its subtasks and its sessions.
func (r *TaskRepository) Delete(ctx context.Context, userID, id string) error {
	db := r.db.WithContext(ctx)
	var owned int64
	if err := db.Model(&model.Task{}).Where("user_id = ? AND id = ?", userID, id).Count(&owned).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if owned == 0 {
		return &model.NotFoundError{Entity: "task", ID: id}
	}
	if err := db.Where("task_id = ?", id).Delete(&model.Subtask{}).Error; err != nil {
		return fmt.Errorf("delete subtasks: %w", err)
	}
	if err := db.Where("task_id = ?", id).Delete(&model.TimeSession{}).Error; err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := db.Where("user_id = ? AND id = ?", userID, id).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ToggleSubtask flips the completed flag of a subtask that belongs to the user's task.
func (r *TaskRepository) ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string, now time.Time) (*model.Subtask, error) {
	db := r.db.WithContext(ctx)
	var owned int64
	if err := db.Model(&model.Task{}).Where("user_id = ? AND id = ?", userID, taskID).Count(&owned).Error; err != nil {
		return nil, fmt.Errorf("toggle subtask: %w", err)
	}
	if owned == 0 {
		return nil, &model.NotFoundError{Entity: "task", ID: taskID}
	}

	var sub model.Subtask
	if err := db.Where("id = ? AND task_id = ?", subtaskID, taskID).First(&sub).Error; err != nil {
		return nil, notFound(err, "subtask", subtaskID)
	}
	sub.Completed = !sub.Completed
	sub.UpdatedAt = now.UTC()
	err := db.Model(&sub).Updates(map[string]interface{}{
		"completed":  sub.Completed,
		"updated_at": sub.UpdatedAt,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("toggle subtask: %w", err)
	}
	return &sub, nil
}

// ReturnTodayToInbox moves untouched TODAY tasks back to the inbox.
func (r *TaskRepository) ReturnTodayToInbox(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND status = ?", userID, model.StatusToday).
		Updates(map[string]interface{}{
			"status":      model.StatusInbox,
			"accepted_at": nil,
			"updated_at":  now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("return today to inbox: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResumePaused puts PAUSED tasks back on the today list.
func (r *TaskRepository) ResumePaused(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND status = ?", userID, model.StatusPaused).
		Updates(map[string]interface{}{
			"status":     model.StatusToday,
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("resume paused: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ClearExpiredPostpones drops postponements that are due, in any status.
func (r *TaskRepository) ClearExpiredPostpones(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND postponed_until IS NOT NULL AND postponed_until <= ?", userID, now.UTC()).
		Updates(map[string]interface{}{
			"postponed_until": nil,
			"updated_at":      now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("clear postpones: %w", res.Error)
	}
	return res.RowsAffected, nil
}
