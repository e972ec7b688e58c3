package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"flavorfleet/internal/models"
	"flavorfleet/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	if m.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (m *recordingMailer) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *recordingMailer) to(addr string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.to == addr {
			out = append(out, s)
		}
	}
	return out
}

var codePattern = regexp.MustCompile(`>(\d{6})<`)

// lastCode extracts the most recent code mailed to addr.
func (m *recordingMailer) lastCode(t *testing.T, addr string) string {
	t.Helper()
	mails := m.to(addr)
	require.NotEmpty(t, mails, "no mail sent to %s", addr)
	match := codePattern.FindStringSubmatch(mails[len(mails)-1].body)
	require.Len(t, match, 2, "no code in mail body")
	return match[1]
}

type push struct {
	userID  uint
	event   string
	payload interface{}
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []push
}

func (p *recordingPusher) Push(userID uint, event string, payload interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{userID: userID, event: event, payload: payload})
	return 1
}

func (p *recordingPusher) count(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, x := range p.pushes {
		if x.userID == userID {
			n++
		}
	}
	return n
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type notificationFixture struct {
	store  *repository.MemoryStore
	mail   *recordingMailer
	pusher *recordingPusher
	clock  *clock
	svc    *NotificationService
}

func newNotificationFixture(t *testing.T) *notificationFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &notificationFixture{
		store:  store,
		mail:   &recordingMailer{},
		pusher: &recordingPusher{},
		clock:  newClock(),
	}
	f.svc = NewNotificationService(store.Users(), store.Notifications(), store.Campaigns(),
		f.pusher, f.mail, 4, zaptest.NewLogger(t))
	f.svc.now = f.clock.Now
	return f
}

func (f *notificationFixture) addUser(t *testing.T, u models.User) *models.User {
	t.Helper()
	if u.Name == "" {
		u.Name = "user"
	}
	require.NoError(t, f.store.Users().Create(context.Background(), &u))
	return &u
}

func (f *notificationFixture) inbox(t *testing.T, userID uint) []models.Notification {
	t.Helper()
	list, _, err := f.store.Notifications().ListByUserID(context.Background(), userID, 0, 0)
	require.NoError(t, err)
	return list
}
