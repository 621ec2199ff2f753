package model

import "time"

// User is the owner of tasks. ID is the opaque identity supplied by the
// identity provider; Telegram users get a derived ID.
type User struct {
	ID            string `gorm:"primaryKey;size:64"`
	TelegramID    *int64 `gorm:"uniqueIndex"`
	FirstName     string
	LastName      string
	Username      string
	LastResetDate *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
