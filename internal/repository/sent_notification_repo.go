package repository

import (
	"context"
	"errors"
	"time"

	"flavorfleet/internal/domain"
	"flavorfleet/internal/models"

	"gorm.io/gorm"
)

// ErrAlreadyDispatched is returned when a campaign is no longer PENDING at dispatch time.
var ErrAlreadyDispatched = errors.New("campaign already dispatched")

const notificationBatchSize = 500

type SentNotificationRepository struct {
	db *gorm.DB
}

func NewSentNotificationRepository(db *gorm.DB) *SentNotificationRepository {
	return &SentNotificationRepository{db: db}
}

// Create stores the campaign together with its target rows.
func (r *SentNotificationRepository) Create(ctx context.Context, sn *models.SentNotification) error {
	return r.db.WithContext(ctx).Create(sn).Error
}

// ListDue returns PENDING campaigns scheduled at or before now. Campaigns without a schedule
// are included: they are immediate campaigns whose first dispatch failed.
func (r *SentNotificationRepository) ListDue(ctx context.Context, now time.Time) ([]models.SentNotification, error) {
	var list []models.SentNotification
	err := r.db.WithContext(ctx).Preload("Targets").
		Where("status = ? AND (schedule_at IS NULL OR schedule_at <= ?)", domain.CampaignStatusPending, now).
		Order("id").
		Find(&list).Error
	return list, err
}

// ListHistory returns every campaign, most recently sent first; pending ones come last.
func (r *SentNotificationRepository) ListHistory(ctx context.Context) ([]models.SentNotification, error) {
	var list []models.SentNotification
	err := r.db.WithContext(ctx).Preload("Targets").
		Order("sent_at IS NULL").Order("sent_at DESC").Order("id DESC").
		Find(&list).Error
	return list, err
}

// CompleteDispatch inserts the per-user notifications and flips the campaign to SENT in one
// transaction. The status flip is guarded on PENDING so a campaign is dispatched exactly once.
func (r *SentNotificationRepository) CompleteDispatch(ctx context.Context, id uint, sentAt time.Time, notifications []models.Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(notifications) > 0 {
			if err := tx.CreateInBatches(&notifications, notificationBatchSize).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&models.SentNotification{}).
			Where("id = ? AND status = ?", id, domain.CampaignStatusPending).
			Updates(map[string]any{"status": domain.CampaignStatusSent, "sent_at": sentAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyDispatched
		}
		return nil
	})
}
