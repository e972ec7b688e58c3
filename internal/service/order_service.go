package service

import (
	"context"
	"errors"
	"fmt"

	"flavorfleet/internal/domain"
	"flavorfleet/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderNotifier is implemented by NotificationService.
type OrderNotifier interface {
	SendOrderStatusUpdate(ctx context.Context, order *models.Order, status string) error
}

type OrderService struct {
	orders   OrderStore
	notifier OrderNotifier
	log      *zap.Logger
}

func NewOrderService(orders OrderStore, notifier OrderNotifier, log *zap.Logger) *OrderService {
	return &OrderService{orders: orders, notifier: notifier, log: log}
}

// UpdateStatus stores the new status and notifies the owner. A failed notification does not
// undo the status change.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uint, status string) (*models.Order, error) {
	if !domain.IsOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.orders.UpdateStatus(ctx, orderID, status); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	o.Status = status
	if err := s.notifier.SendOrderStatusUpdate(ctx, o, status); err != nil {
		s.log.Error("order status notification failed", zap.Uint("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}
