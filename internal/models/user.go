package models

import (
	"time"

	"flavorfleet/internal/domain"
)

type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"size:128;not null" json:"name"`
	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	Role         string `gorm:"size:20;not null;default:USER;index" json:"role"` // USER | ADMIN

	// Notification preferences
	EmailOrderUpdates    bool `gorm:"default:false" json:"email_order_updates"`
	EmailPromotions      bool `gorm:"default:false" json:"email_promotions"`
	DesktopNotifications bool `gorm:"default:false" json:"desktop_notifications"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }

// Preferences returns the user's notification preference flags.
func (u *User) Preferences() Preferences {
	return Preferences{
		EmailOrderUpdates:    u.EmailOrderUpdates,
		EmailPromotions:      u.EmailPromotions,
		DesktopNotifications: u.DesktopNotifications,
	}
}

// WantsEmail reports whether a notification of type notifType should be emailed to the user.
func (u *User) WantsEmail(notifType string) bool {
	switch notifType {
	case domain.NotificationTypeOrder:
		return u.EmailOrderUpdates
	case domain.NotificationTypePromotion:
		return u.EmailPromotions
	}
	return false
}

type Preferences struct {
	EmailOrderUpdates    bool `json:"emailOrderUpdates"`
	EmailPromotions      bool `json:"emailPromotions"`
	DesktopNotifications bool `json:"desktopNotifications"`
}
