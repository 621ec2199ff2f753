package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"daily-triage/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// TelegramUserID derives the user id used for a Telegram account.
func TelegramUserID(telegramID int64) string {
	return "tg:" + strconv.FormatInt(telegramID, 10)
}

// Ensure returns the user, creating it on first sight. A new user counts as
// already reset for the day it was created.
func (r *UserRepository) Ensure(ctx context.Context, id string, now time.Time) (*model.User, error) {
	db := r.db.WithContext(ctx)
	now = now.UTC()
	user := model.User{ID: id, LastResetDate: &now, CreatedAt: now, UpdatedAt: now}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.FindByID(ctx, id)
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string, now time.Time) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		now = now.UTC()
		user = model.User{
			ID:            TelegramUserID(telegramID),
			TelegramID:    &telegramID,
			FirstName:     firstName,
			LastName:      lastName,
			Username:      username,
			LastResetDate: &now,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListTelegram returns users reachable through the chat bot.
func (r *UserRepository) ListTelegram(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("telegram_id IS NOT NULL").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list telegram users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) SetLastResetDate(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("last_reset_date", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("set last reset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &model.NotFoundError{Entity: "user", ID: id}
	}
	return nil
}
