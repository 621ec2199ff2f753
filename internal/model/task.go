package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task represents a single item in the planner.
type Task struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	UserID         string     `gorm:"index;not null" json:"userId"`
	Title          string     `gorm:"not null" json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       int        `gorm:"not null" json:"priority"`
	Spiciness      int        `gorm:"not null" json:"spiciness"`
	Status         Status     `gorm:"size:16;not null;index" json:"status"`
	Deadline       *time.Time `json:"deadline"`
	PostponedUntil *time.Time `json:"postponedUntil"`
	AcceptedAt     *time.Time `json:"acceptedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	TrashedAt      *time.Time `json:"trashedAt"`
	LastStartedAt  *time.Time `json:"lastStartedAt"`
	TotalTimeSpent int        `gorm:"not null;default:0" json:"totalTimeSpent"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Subtasks     []Subtask     `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"subtasks,omitempty"`
	TimeSessions []TimeSession `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"timeSessions,omitempty"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// HasActiveSession reports whether a loaded session is still running.
func (t *Task) HasActiveSession() bool {
	for i := range t.TimeSessions {
		if t.TimeSessions[i].IsActive() {
			return true
		}
	}
	return false
}

func (t *Task) CompletedSubtasks() int {
	n := 0
	for _, s := range t.Subtasks {
		if s.Completed {
			n++
		}
	}
	return n
}

// IsOverdue is advisory only; deadlines are never enforced.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Deadline == nil || t.Status == StatusCompleted || t.Status == StatusTrash {
		return false
	}
	return now.After(*t.Deadline)
}

// Postponed reports whether the task is hidden from the inbox at now.
func (t *Task) Postponed(now time.Time) bool {
	return t.PostponedUntil != nil && t.PostponedUntil.After(now)
}

// Clone returns a deep copy, including subtasks and sessions.
func (t *Task) Clone() *Task {
	c := *t
	c.Deadline = cloneTime(t.Deadline)
	c.PostponedUntil = cloneTime(t.PostponedUntil)
	c.AcceptedAt = cloneTime(t.AcceptedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.TrashedAt = cloneTime(t.TrashedAt)
	c.LastStartedAt = cloneTime(t.LastStartedAt)
	if t.Subtasks != nil {
		c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	if t.TimeSessions != nil {
		c.TimeSessions = make([]TimeSession, len(t.TimeSessions))
		for i, s := range t.TimeSessions {
			c.TimeSessions[i] = s
			c.TimeSessions[i].EndedAt = cloneTime(s.EndedAt)
			if s.Duration != nil {
				d := *s.Duration
				c.TimeSessions[i].Duration = &d
			}
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Subtask is a checklist item owned by a task. Order is unique per task.
type Subtask struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TaskID    string    `gorm:"index;not null" json:"taskId"`
	Title     string    `gorm:"not null" json:"title"`
	Completed bool      `gorm:"not null;default:false" json:"completed"`
	Order     int       `gorm:"column:position;not null" json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Subtask) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
