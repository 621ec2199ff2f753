package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"daily-triage/internal/model"
)

// Store bundles the repositories that share one database handle.
type Store struct {
	db       *gorm.DB
	Tasks    *TaskRepository
	Sessions *SessionRepository
	Users    *UserRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Tasks:    NewTaskRepository(db),
		Sessions: NewSessionRepository(db),
		Users:    NewUserRepository(db),
	}
}

// Transaction runs fn against a Store bound to a single transaction.
// fn must only use tx: the pool holds one connection, so touching the outer
// Store from inside fn blocks.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return err
}
