package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"flavorfleet/config"
	"flavorfleet/internal/auth"
	"flavorfleet/internal/domain"
	"flavorfleet/internal/models"
	"flavorfleet/internal/otp"
	"flavorfleet/internal/repository"
	"flavorfleet/internal/service"
	"flavorfleet/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

var codePattern = regexp.MustCompile(`>(\d{6})<`)

type inboxMailer struct {
	mu    sync.Mutex
	bodys map[string][]string
}

func (m *inboxMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodys[to] = append(m.bodys[to], body)
	return nil
}

func (m *inboxMailer) code(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.bodys[to]
	for i := len(list) - 1; i >= 0; i-- {
		if match := codePattern.FindStringSubmatch(list[i]); match != nil {
			return match[1]
		}
	}
	t.Fatalf("no code mailed to %s", to)
	return ""
}

type testServer struct {
	engine *gin.Engine
	store  *repository.MemoryStore
	mail   *inboxMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	cfg := &config.Config{
		Server: config.ServerConfig{RateLimit: 1000, RateWindow: time.Minute},
		JWT: config.JWTConfig{
			AccessSecret:  "access",
			RefreshSecret: "refresh",
			AccessExpiry:  time.Hour,
			RefreshExpiry: 24 * time.Hour,
			Issuer:        "test",
		},
		OTP:   config.OTPConfig{TTL: 10 * time.Minute, RateLimit: 100, RateWindow: time.Minute},
		Admin: config.AdminConfig{Emails: []string{"admin@flavorfleet.com"}},
	}
	store := repository.NewMemoryStore()
	otps := otp.NewMemoryStore(cfg.OTP.TTL)
	hub := ws.NewHub(time.Minute, log)
	mail := &inboxMailer{bodys: map[string][]string{}}
	notif := service.NewNotificationService(store.Users(), store.Notifications(), store.Campaigns(), hub, mail, 2, log)
	authSvc := service.NewAuthService(cfg, store.Users(), otps, auth.NewBcryptHasher(bcrypt.MinCost), mail, log)
	orders := service.NewOrderService(store.Orders(), notif, log)

	engine, stop := Setup(cfg, Deps{Auth: authSvc, Notifications: notif, Orders: orders, Hub: hub, Log: log})
	t.Cleanup(func() {
		stop()
		hub.Close()
		_ = otps.Close()
	})
	return &testServer{engine: engine, store: store, mail: mail}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

// signup registers and verifies an account, returning its access token.
func (s *testServer) signup(t *testing.T, name, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": name, "email": email, "password": "Secret1!"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/verify-signup-otp", "", gin.H{"email": email, "otp": s.mail.code(t, email)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.AccessToken)
	return res.AccessToken
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Ada", "ada@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Ada", "email": "ada@example.com", "password": "Secret1!"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Bo", "email": "bo@example.com", "password": "weak"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "Secret1!"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = s.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Ada", "ada@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/forgot-password", "", gin.H{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/forgot-password", "", gin.H{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"email": "ada@example.com", "otp": s.mail.code(t, "ada@example.com"), "newPassword": "Changed2@",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "Changed2@"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePasswordFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")

	body := gin.H{"currentPassword": "Secret1!", "newPassword": "Changed2@"}
	w := s.do(t, http.MethodPost, "/api/auth/change-password", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/change-password", token, gin.H{"currentPassword": "Nope1!xx", "newPassword": "Changed2@"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/change-password", token, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "Secret1!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "Changed2@"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCampaignToInbox(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "Admin", "admin@flavorfleet.com")
	user := s.signup(t, "Ada", "ada@example.com")

	campaign := gin.H{"title": "Lunch deal", "content": "2 for 1", "type": domain.NotificationTypePromotion}
	w := s.do(t, http.MethodPost, "/api/admin/notifications", user, campaign)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/notifications", admin, campaign)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/admin/notifications-history", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), domain.CampaignStatusSent)

	w = s.do(t, http.MethodGet, "/api/notifications?page=1&size=10", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items  []models.Notification `json:"items"`
		Total  int64                 `json:"total"`
		Unread int64                 `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 1, page.Unread)
	assert.Equal(t, "Lunch deal", page.Items[0].Title)

	items, _, err := s.store.Notifications().ListByUserID(context.Background(), 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	id := items[0].ID

	// The admin cannot touch another user's notification.
	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", id), admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", id), user, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", id), user, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", id), user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/notifications/clear-all", user, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCampaignValidation(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "Admin", "admin@flavorfleet.com")

	w := s.do(t, http.MethodPost, "/api/admin/notifications", admin, gin.H{"title": "", "type": domain.NotificationTypePromotion})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/notifications", admin, gin.H{"title": "x", "type": "PROMOTION", "scheduleDate": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/notifications/image", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t)
	user := s.signup(t, "Ada", "ada@example.com")

	w := s.do(t, http.MethodPut, "/api/notifications/preferences", user, gin.H{"desktopNotifications": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/notifications/preferences", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var prefs models.Preferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.True(t, prefs.DesktopNotifications)
	assert.False(t, prefs.EmailPromotions)
}

func TestOrderStatusUpdate(t *testing.T) {
	s := newTestServer(t)
	admin := s.signup(t, "Admin", "admin@flavorfleet.com")
	user := s.signup(t, "Ada", "ada@example.com")

	order := &models.Order{UserID: 2, Status: domain.OrderStatusPending}
	require.NoError(t, s.store.Orders().Create(context.Background(), order))

	w := s.do(t, http.MethodPut, fmt.Sprintf("/api/admin/orders/%d", order.ID), admin, gin.H{"status": domain.OrderStatusShipped})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPut, "/api/admin/orders/999", admin, gin.H{"status": domain.OrderStatusShipped})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/notifications", user, nil)
	assert.Contains(t, w.Body.String(), "Order Status Update")
}

func TestNotificationsHugePage(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")

	w := s.do(t, http.MethodGet, "/api/notifications?page=9223372036854775807&size=50", token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/notifications", "/api/notifications/preferences", "/api/notifications/sse"} {
		w := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flavorfleet_http_requests_total")
}
