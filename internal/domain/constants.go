package domain

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Notification types. Email delivery is gated per type by user preferences.
const (
	NotificationTypeOrder     = "order"
	NotificationTypePromotion = "promotion"
	NotificationTypeSystem    = "system"
)

const (
	CampaignStatusPending = "PENDING"
	CampaignStatusSent    = "SENT"
)

const (
	OTPPurposeSignup = "signup"
	OTPPurposeReset  = "reset"
)

// Live push event names.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
)

const (
	OrderStatusPending   = "Pending"
	OrderStatusPreparing = "Preparing"
	OrderStatusShipped   = "Shipped"
	OrderStatusDelivered = "Delivered"
	OrderStatusCancelled = "Cancelled"
)

// IsNotificationType reports whether t is one of the known notification types.
func IsNotificationType(t string) bool {
	switch t {
	case NotificationTypeOrder, NotificationTypePromotion, NotificationTypeSystem:
		return true
	}
	return false
}

// IsOrderStatus reports whether s is one of the known order statuses.
func IsOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}
