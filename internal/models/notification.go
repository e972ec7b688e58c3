package models

import (
	"encoding/json"
	"time"
)

// Notification is one delivered message in a user's inbox.
type Notification struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	UserID   uint      `gorm:"not null;index:idx_notifications_user_sent,priority:1" json:"-"`
	Title    string    `gorm:"size:255;not null" json:"title"`
	Content  string    `gorm:"type:text" json:"content"`
	ImageURL string    `gorm:"size:512" json:"imageUrl,omitempty"`
	Type     string    `gorm:"size:20;not null" json:"type"`
	IsRead   bool      `gorm:"not null;default:false;index" json:"read"`
	SentAt   time.Time `gorm:"not null;index:idx_notifications_user_sent,priority:2" json:"sentAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

// SentNotification is a campaign authored by an admin. Rows are never deleted.
type SentNotification struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Title      string     `gorm:"size:255;not null" json:"title"`
	Content    string     `gorm:"type:text" json:"content"`
	ImageURL   string     `gorm:"size:512" json:"imageUrl,omitempty"`
	Type       string     `gorm:"size:20;not null" json:"type"`
	Status     string     `gorm:"size:20;not null;default:PENDING;index:idx_sent_notifications_due,priority:1" json:"status"`
	ScheduleAt *time.Time `gorm:"index:idx_sent_notifications_due,priority:2" json:"scheduleDate"`
	SentAt     *time.Time `gorm:"index" json:"sentAt"`
	CreatedAt  time.Time  `json:"createdAt"`

	Targets []SentNotificationTarget `gorm:"foreignKey:SentNotificationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (SentNotification) TableName() string {
	return "sent_notifications"
}

// SentNotificationTarget joins a campaign to one recipient. No rows means broadcast.
type SentNotificationTarget struct {
	SentNotificationID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID             uint `gorm:"primaryKey;autoIncrement:false"`
}

func (SentNotificationTarget) TableName() string {
	return "sent_notification_targets"
}

// UserIDs returns the targeted user ids; empty means all users.
func (s *SentNotification) UserIDs() []uint {
	ids := make([]uint, 0, len(s.Targets))
	for _, t := range s.Targets {
		ids = append(ids, t.UserID)
	}
	return ids
}

// SetUserIDs replaces the targets, dropping duplicates.
func (s *SentNotification) SetUserIDs(ids []uint) {
	seen := make(map[uint]struct{}, len(ids))
	s.Targets = s.Targets[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.Targets = append(s.Targets, SentNotificationTarget{SentNotificationID: s.ID, UserID: id})
	}
}

// MarshalJSON adds the flattened target list as userIds.
func (s SentNotification) MarshalJSON() ([]byte, error) {
	type alias SentNotification
	return json.Marshal(struct {
		alias
		UserIDs []uint `json:"userIds"`
	}{alias(s), s.UserIDs()})
}
