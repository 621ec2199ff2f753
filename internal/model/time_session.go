package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TimeSession is one contiguous interval of work on a task.
// A nil EndedAt means the session is still running.
type TimeSession struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	TaskID    string     `gorm:"index;not null" json:"taskId"`
	StartedAt time.Time  `gorm:"not null" json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	Duration  *int       `json:"duration"` // seconds
}

func (s *TimeSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *TimeSession) IsActive() bool {
	return s.EndedAt == nil
}
