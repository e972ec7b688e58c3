package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"flavorfleet/internal/domain"
	"flavorfleet/internal/models"

	"gorm.io/gorm"
)

// MemoryStore keeps every table in process memory. It honours the same contract as the gorm
// repositories (gorm.ErrRecordNotFound, gorm.ErrDuplicatedKey, ErrAlreadyDispatched) and backs
// DB_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uint]models.User
	orders        map[uint]models.Order
	notifications map[uint]models.Notification
	campaigns     map[uint]models.SentNotification
	nextID        uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uint]models.User),
		orders:        make(map[uint]models.Order),
		notifications: make(map[uint]models.Notification),
		campaigns:     make(map[uint]models.SentNotification),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// claim keeps a caller-chosen primary key, like gorm does, or assigns the next one.
func (s *MemoryStore) claim(id uint) uint {
	if id == 0 {
		return s.id()
	}
	if id > s.nextID {
		s.nextID = id
	}
	return id
}

func (s *MemoryStore) Users() *MemoryUserRepository { return &MemoryUserRepository{s: s} }

func (s *MemoryStore) Notifications() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{s: s}
}

func (s *MemoryStore) Campaigns() *MemoryCampaignRepository { return &MemoryCampaignRepository{s: s} }

func (s *MemoryStore) Orders() *MemoryOrderRepository { return &MemoryOrderRepository{s: s} }

type MemoryUserRepository struct{ s *MemoryStore }

func (r *MemoryUserRepository) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return gorm.ErrDuplicatedKey
		}
	}
	if _, taken := r.s.users[u.ID]; taken && u.ID != 0 {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now()
	u.ID = r.s.claim(u.ID)
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id uint) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryUserRepository) ListAll(_ context.Context) ([]models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := make([]models.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *MemoryUserRepository) ListByIDs(_ context.Context, ids []uint) ([]models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := make([]models.User, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := r.s.users[id]; ok {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id uint, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now()
	r.s.users[id] = u
	return nil
}

func (r *MemoryUserRepository) UpdatePreferences(_ context.Context, id uint, fields map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	for k, v := range fields {
		b, _ := v.(bool)
		switch k {
		case "email_order_updates":
			u.EmailOrderUpdates = b
		case "email_promotions":
			u.EmailPromotions = b
		case "desktop_notifications":
			u.DesktopNotifications = b
		}
	}
	r.s.users[id] = u
	return nil
}

type MemoryNotificationRepository struct{ s *MemoryStore }

func (r *MemoryNotificationRepository) GetByID(_ context.Context, id uint) (*models.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &n, nil
}

func (r *MemoryNotificationRepository) ListByUserID(_ context.Context, userID uint, limit, offset int) ([]models.Notification, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var all []models.Notification
	for _, n := range r.s.notifications {
		if n.UserID == userID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SentAt.Equal(all[j].SentAt) {
			return all[i].SentAt.After(all[j].SentAt)
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []models.Notification{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *MemoryNotificationRepository) CountUnread(_ context.Context, userID uint) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, v := range r.s.notifications {
		if v.UserID == userID && !v.IsRead {
			n++
		}
	}
	return n, nil
}

func (r *MemoryNotificationRepository) MarkRead(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n, ok := r.s.notifications[id]; ok {
		n.IsRead = true
		r.s.notifications[id] = n
	}
	return nil
}

func (r *MemoryNotificationRepository) MarkAllRead(_ context.Context, userID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var changed int64
	for id, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			r.s.notifications[id] = n
			changed++
		}
	}
	return changed, nil
}

func (r *MemoryNotificationRepository) Delete(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.notifications, id)
	return nil
}

func (r *MemoryNotificationRepository) DeleteByUserID(_ context.Context, userID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed int64
	for id, n := range r.s.notifications {
		if n.UserID == userID {
			delete(r.s.notifications, id)
			removed++
		}
	}
	return removed, nil
}

type MemoryCampaignRepository struct{ s *MemoryStore }

func (r *MemoryCampaignRepository) Create(_ context.Context, sn *models.SentNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sn.ID = r.s.id()
	sn.CreatedAt = time.Now()
	if sn.Status == "" {
		sn.Status = domain.CampaignStatusPending
	}
	targets := make([]models.SentNotificationTarget, len(sn.Targets))
	for i, t := range sn.Targets {
		t.SentNotificationID = sn.ID
		targets[i] = t
	}
	sn.Targets = targets
	stored := *sn
	stored.Targets = append([]models.SentNotificationTarget(nil), targets...)
	r.s.campaigns[sn.ID] = stored
	return nil
}

func (r *MemoryCampaignRepository) GetByID(_ context.Context, id uint) (*models.SentNotification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sn, ok := r.s.campaigns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &sn, nil
}

func (r *MemoryCampaignRepository) ListDue(_ context.Context, now time.Time) ([]models.SentNotification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var list []models.SentNotification
	for _, sn := range r.s.campaigns {
		if sn.Status != domain.CampaignStatusPending {
			continue
		}
		if sn.ScheduleAt == nil || !sn.ScheduleAt.After(now) {
			list = append(list, sn)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *MemoryCampaignRepository) ListHistory(_ context.Context) ([]models.SentNotification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := make([]models.SentNotification, 0, len(r.s.campaigns))
	for _, sn := range r.s.campaigns {
		list = append(list, sn)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].SentAt, list[j].SentAt
		switch {
		case a == nil && b == nil:
			return list[i].ID > list[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (r *MemoryCampaignRepository) CompleteDispatch(_ context.Context, id uint, sentAt time.Time, notifications []models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sn, ok := r.s.campaigns[id]
	if !ok || sn.Status != domain.CampaignStatusPending {
		return ErrAlreadyDispatched
	}
	for i := range notifications {
		notifications[i].ID = r.s.id()
		r.s.notifications[notifications[i].ID] = notifications[i]
	}
	t := sentAt
	sn.SentAt = &t
	sn.Status = domain.CampaignStatusSent
	r.s.campaigns[id] = sn
	return nil
}

type MemoryOrderRepository struct{ s *MemoryStore }

// Create is used by seeding and tests; orders are otherwise created by the ordering flow.
func (r *MemoryOrderRepository) Create(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	o.ID = r.s.claim(o.ID)
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.orders[o.ID] = *o
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id uint) (*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (r *MemoryOrderRepository) UpdateStatus(_ context.Context, id uint, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	r.s.orders[id] = o
	return nil
}
