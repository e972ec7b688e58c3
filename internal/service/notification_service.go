package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flavorfleet/internal/domain"
	"flavorfleet/internal/metrics"
	"flavorfleet/internal/models"
	"flavorfleet/internal/repository"
	"flavorfleet/pkg/mailer"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxPage         = 100000
	defaultWorkers  = 8

	orderUpdateTitle = "Order Status Update"
)

// CampaignRequest is what an admin submits to create a notification campaign.
type CampaignRequest struct {
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	ImageURL   string     `json:"imageUrl"`
	Type       string     `json:"type"`
	UserIDs    []uint     `json:"userIds"`
	ScheduleAt *time.Time `json:"scheduleDate"`
}

// PreferencesUpdate carries only the preference keys the client sent.
type PreferencesUpdate struct {
	EmailOrderUpdates    *bool `json:"emailOrderUpdates"`
	EmailPromotions      *bool `json:"emailPromotions"`
	DesktopNotifications *bool `json:"desktopNotifications"`
}

type NotificationPage struct {
	Items  []models.Notification `json:"items"`
	Total  int64                 `json:"total"`
	Unread int64                 `json:"unread"`
	Page   int                   `json:"page"`
	Size   int                   `json:"size"`
}

// DispatchSummary reports one scheduler run.
type DispatchSummary struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

type NotificationService struct {
	users         UserStore
	notifications NotificationStore
	campaigns     CampaignStore
	pusher        Pusher
	mail          mailer.Mailer
	workers       int
	log           *zap.Logger
	now           func() time.Time
}

func NewNotificationService(
	users UserStore,
	notifications NotificationStore,
	campaigns CampaignStore,
	pusher Pusher,
	mail mailer.Mailer,
	workers int,
	log *zap.Logger,
) *NotificationService {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &NotificationService{
		users:         users,
		notifications: notifications,
		campaigns:     campaigns,
		pusher:        pusher,
		mail:          mail,
		workers:       workers,
		log:           log,
		now:           time.Now,
	}
}

// CreateCampaign stores a PENDING campaign and dispatches it right away unless it is scheduled
// for the future.
func (s *NotificationService) CreateCampaign(ctx context.Context, req CampaignRequest) (*models.SentNotification, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidCampaign)
	}
	if !domain.IsNotificationType(req.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCampaign, req.Type)
	}
	sn := &models.SentNotification{
		Title:      req.Title,
		Content:    req.Content,
		ImageURL:   req.ImageURL,
		Type:       req.Type,
		Status:     domain.CampaignStatusPending,
		ScheduleAt: req.ScheduleAt,
	}
	sn.SetUserIDs(req.UserIDs)
	if err := s.campaigns.Create(ctx, sn); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	now := s.now()
	if sn.ScheduleAt != nil && sn.ScheduleAt.After(now) {
		s.log.Info("campaign scheduled", zap.Uint("campaign_id", sn.ID), zap.Time("schedule_at", *sn.ScheduleAt))
		return sn, nil
	}
	if err := s.dispatch(ctx, sn, now); err != nil {
		if errors.Is(err, repository.ErrAlreadyDispatched) {
			return sn, nil
		}
		return nil, fmt.Errorf("dispatch campaign %d: %w", sn.ID, err)
	}
	return sn, nil
}

// dispatch persists one notification per recipient and marks the campaign SENT in a single
// transaction, then delivers on the live and email channels.
func (s *NotificationService) dispatch(ctx context.Context, sn *models.SentNotification, now time.Time) error {
	recipients, err := s.recipients(ctx, sn)
	if err != nil {
		metrics.RecordDispatch("failed")
		return fmt.Errorf("resolve recipients: %w", err)
	}
	batch := make([]models.Notification, len(recipients))
	for i, u := range recipients {
		batch[i] = models.Notification{
			UserID:   u.ID,
			Title:    sn.Title,
			Content:  sn.Content,
			ImageURL: sn.ImageURL,
			Type:     sn.Type,
			SentAt:   now,
		}
	}
	if err := s.campaigns.CompleteDispatch(ctx, sn.ID, now, batch); err != nil {
		if errors.Is(err, repository.ErrAlreadyDispatched) {
			metrics.RecordDispatch("skipped")
		} else {
			metrics.RecordDispatch("failed")
		}
		return err
	}
	sn.Status = domain.CampaignStatusSent
	sentAt := now
	sn.SentAt = &sentAt
	metrics.RecordDispatch("sent")
	s.log.Info("campaign dispatched",
		zap.Uint("campaign_id", sn.ID), zap.String("type", sn.Type), zap.Int("recipients", len(recipients)))

	s.deliver(context.WithoutCancel(ctx), recipients, batch)
	return nil
}

func (s *NotificationService) recipients(ctx context.Context, sn *models.SentNotification) ([]models.User, error) {
	ids := sn.UserIDs()
	if len(ids) == 0 {
		return s.users.ListAll(ctx)
	}
	return s.users.ListByIDs(ctx, ids)
}

// deliver fans out channel delivery with bounded concurrency. Failures are logged and counted.
func (s *NotificationService) deliver(ctx context.Context, recipients []models.User, batch []models.Notification) {
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i := range recipients {
		u, n := recipients[i], batch[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("delivery panic", zap.Uint("user_id", u.ID), zap.Any("panic", r))
				}
			}()
			s.deliverOne(ctx, &u, &n)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *NotificationService) deliverOne(ctx context.Context, u *models.User, n *models.Notification) {
	if u.DesktopNotifications && s.pusher != nil {
		if delivered := s.pusher.Push(u.ID, domain.EventNotification, n); delivered > 0 {
			metrics.RecordDelivery("push", true)
		}
	}
	if !u.WantsEmail(n.Type) || s.mail == nil {
		return
	}
	body, err := mailer.NotificationBody(n.Title, n.Content, n.ImageURL)
	if err == nil {
		err = s.mail.Send(ctx, u.Email, n.Title, body)
	}
	metrics.RecordDelivery("email", err == nil)
	if err != nil {
		s.log.Warn("notification email failed",
			zap.Uint("user_id", u.ID), zap.Uint("notification_id", n.ID), zap.Error(err))
	}
}

// DispatchDue dispatches every PENDING campaign due at now. A failing campaign does not stop
// the others.
func (s *NotificationService) DispatchDue(ctx context.Context, now time.Time) (DispatchSummary, error) {
	due, err := s.campaigns.ListDue(ctx, now)
	if err != nil {
		return DispatchSummary{}, fmt.Errorf("list due campaigns: %w", err)
	}
	sum := DispatchSummary{Due: len(due)}
	for i := range due {
		sn := &due[i]
		err := s.dispatchRecovered(ctx, sn, now)
		switch {
		case err == nil:
			sum.Sent++
		case errors.Is(err, repository.ErrAlreadyDispatched):
			sum.Skipped++
		default:
			sum.Failed++
			s.log.Error("scheduled dispatch failed", zap.Uint("campaign_id", sn.ID), zap.Error(err))
		}
	}
	return sum, nil
}

// dispatchRecovered turns a panic while dispatching one campaign into an error for that campaign.
func (s *NotificationService) dispatchRecovered(ctx context.Context, sn *models.SentNotification, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordDispatch("failed")
			err = fmt.Errorf("dispatch campaign %d panicked: %v", sn.ID, r)
		}
	}()
	return s.dispatch(ctx, sn, now)
}

// GetNotifications returns one page of the user's inbox, newest first. page starts at 1.
func (s *NotificationService) GetNotifications(ctx context.Context, userID uint, page, size int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	// Bounded so (page-1)*size cannot overflow into a negative offset.
	if page > maxPage {
		page = maxPage
	}
	items, total, err := s.notifications.ListByUserID(ctx, userID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return &NotificationPage{Items: items, Total: total, Unread: unread, Page: page, Size: size}, nil
}

// owned loads a notification and checks that userID owns it.
func (s *NotificationService) owned(ctx context.Context, id, userID uint) (*models.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrUnauthorized
	}
	return n, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uint) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.notifications.MarkRead(ctx, id)
}

func (s *NotificationService) Delete(ctx context.Context, id, userID uint) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.notifications.Delete(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.notifications.MarkAllRead(ctx, userID)
}

func (s *NotificationService) ClearAll(ctx context.Context, userID uint) (int64, error) {
	return s.notifications.DeleteByUserID(ctx, userID)
}

func (s *NotificationService) GetPreferences(ctx context.Context, userID uint) (models.Preferences, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Preferences{}, ErrUserNotFound
	}
	if err != nil {
		return models.Preferences{}, err
	}
	return u.Preferences(), nil
}

// UpdatePreferences changes only the keys present in upd and returns the resulting preferences.
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID uint, upd PreferencesUpdate) (models.Preferences, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Preferences{}, ErrUserNotFound
	}
	if err != nil {
		return models.Preferences{}, err
	}
	fields := map[string]any{}
	if upd.EmailOrderUpdates != nil {
		fields["email_order_updates"] = *upd.EmailOrderUpdates
		u.EmailOrderUpdates = *upd.EmailOrderUpdates
	}
	if upd.EmailPromotions != nil {
		fields["email_promotions"] = *upd.EmailPromotions
		u.EmailPromotions = *upd.EmailPromotions
	}
	if upd.DesktopNotifications != nil {
		fields["desktop_notifications"] = *upd.DesktopNotifications
		u.DesktopNotifications = *upd.DesktopNotifications
	}
	if len(fields) > 0 {
		if err := s.users.UpdatePreferences(ctx, userID, fields); err != nil {
			return models.Preferences{}, fmt.Errorf("update preferences: %w", err)
		}
	}
	return u.Preferences(), nil
}

// SendOrderStatusUpdate notifies the order's owner of a status change.
func (s *NotificationService) SendOrderStatusUpdate(ctx context.Context, order *models.Order, status string) error {
	_, err := s.CreateCampaign(ctx, CampaignRequest{
		Title:   orderUpdateTitle,
		Content: fmt.Sprintf("Your order #%d is now %s", order.ID, status),
		Type:    domain.NotificationTypeOrder,
		UserIDs: []uint{order.UserID},
	})
	return err
}

// GetHistory lists every campaign, most recently sent first.
func (s *NotificationService) GetHistory(ctx context.Context) ([]models.SentNotification, error) {
	list, err := s.campaigns.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaign history: %w", err)
	}
	return list, nil
}
