package service

import (
	"context"
	"time"

	"flavorfleet/internal/models"
)

// UserStore is implemented by repository.UserRepository and repository.MemoryUserRepository.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ListAll(ctx context.Context) ([]models.User, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	UpdatePassword(ctx context.Context, id uint, hash string) error
	UpdatePreferences(ctx context.Context, id uint, fields map[string]any) error
}

type NotificationStore interface {
	GetByID(ctx context.Context, id uint) (*models.Notification, error)
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, id uint) error
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	Delete(ctx context.Context, id uint) error
	DeleteByUserID(ctx context.Context, userID uint) (int64, error)
}

type CampaignStore interface {
	Create(ctx context.Context, sn *models.SentNotification) error
	ListDue(ctx context.Context, now time.Time) ([]models.SentNotification, error)
	ListHistory(ctx context.Context) ([]models.SentNotification, error)
	CompleteDispatch(ctx context.Context, id uint, sentAt time.Time, notifications []models.Notification) error
}

type OrderStore interface {
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// Pusher delivers a live event to every open connection of a user. ws.Hub implements it.
type Pusher interface {
	Push(userID uint, event string, payload interface{}) int
}
