package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flavorfleet/config"
	"flavorfleet/internal/auth"
	"flavorfleet/internal/domain"
	"flavorfleet/internal/models"
	"flavorfleet/internal/otp"
	"flavorfleet/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Secret1!"

type authFixture struct {
	store  *repository.MemoryStore
	otps   *otp.MemoryStore
	mail   *recordingMailer
	clock  *clock
	hasher *auth.BcryptHasher
	svc    *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	cfg := &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:  "access",
			RefreshSecret: "refresh",
			AccessExpiry:  time.Hour,
			RefreshExpiry: 24 * time.Hour,
			Issuer:        "test",
		},
		OTP:   config.OTPConfig{TTL: 10 * time.Minute},
		Admin: config.AdminConfig{Emails: []string{"boss@flavorfleet.com"}},
	}
	f := &authFixture{
		store:  repository.NewMemoryStore(),
		mail:   &recordingMailer{},
		clock:  newClock(),
		hasher: auth.NewBcryptHasher(bcrypt.MinCost),
	}
	f.otps = otp.NewMemoryStore(cfg.OTP.TTL, otp.WithClock(f.clock.Now))
	t.Cleanup(func() { _ = f.otps.Close() })
	f.svc = NewAuthService(cfg, f.store.Users(), f.otps, f.hasher, f.mail, zaptest.NewLogger(t))
	f.svc.now = f.clock.Now
	return f
}

func (f *authFixture) signup(t *testing.T, email string) string {
	t.Helper()
	require.NoError(t, f.svc.IssueSignupOTP(context.Background(), SignupRequest{Name: "Ada", Email: email, Password: strongPassword}))
	return f.mail.lastCode(t, email)
}

func TestSignup_RoundTrip(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")

	_, err := f.store.Users().GetByEmail(ctx, "ada@example.com")
	require.Error(t, err, "nothing persisted before verification")

	f.clock.Advance(9 * time.Minute)
	u, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.True(t, f.hasher.Matches(strongPassword, u.PasswordHash))
	assert.Equal(t, 0, f.otps.Len())

	mails := f.mail.to("ada@example.com")
	require.Len(t, mails, 2)
	assert.Contains(t, mails[1].body, "Welcome")

	tokens, err := f.svc.IssueTokens(u)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
}

func TestSignup_ExpiredAfterElevenMinutes(t *testing.T) {
	f := newAuthFixture(t)
	code := f.signup(t, "ada@example.com")

	f.clock.Advance(11 * time.Minute)
	_, err := f.svc.VerifySignupOTP(context.Background(), "ada@example.com", code)
	require.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrOTPExpired)
	assert.Equal(t, 0, f.otps.Len())
}

func TestSignup_ReissueInvalidatesOldCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := f.signup(t, "ada@example.com")
	second := f.signup(t, "ada@example.com")

	if first != second {
		_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", first)
		require.ErrorIs(t, err, ErrInvalidOTP)
	}
	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", second)
	require.NoError(t, err)
}

func TestSignup_WrongCodeKeepsEntry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", wrong)
	require.ErrorIs(t, err, ErrInvalidOTP)
	_, err = f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)
}

func TestSignup_ConcurrentVerifyCreatesOneUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	all, err := f.store.Users().ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIssueSignupOTP_Validation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SignupRequest
		want error
	}{
		{"bad email", SignupRequest{Name: "A", Email: "not-an-email", Password: strongPassword}, ErrInvalidEmail},
		{"short password", SignupRequest{Name: "A", Email: "a@b.com", Password: "Se1!"}, ErrWeakPassword},
		{"no special", SignupRequest{Name: "A", Email: "a@b.com", Password: "Secret123"}, ErrWeakPassword},
		{"no upper", SignupRequest{Name: "A", Email: "a@b.com", Password: "secret1!"}, ErrWeakPassword},
		{"disallowed char", SignupRequest{Name: "A", Email: "a@b.com", Password: "Secret1!#"}, ErrWeakPassword},
		{"missing name", SignupRequest{Email: "a@b.com", Password: strongPassword}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.IssueSignupOTP(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 0, f.otps.Len())
}

func TestIssueSignupOTP_EmailExists(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")
	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)

	err = f.svc.IssueSignupOTP(ctx, SignupRequest{Name: "Ada", Email: "ADA@example.com", Password: strongPassword})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestIssueSignupOTP_AdminEmailGetsAdminRole(t *testing.T) {
	f := newAuthFixture(t)
	code := f.signup(t, "boss@flavorfleet.com")
	u, err := f.svc.VerifySignupOTP(context.Background(), "boss@flavorfleet.com", code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
}

func TestIssueSignupOTP_MailFailureWithdrawsCode(t *testing.T) {
	f := newAuthFixture(t)
	f.mail.setFail(true)

	err := f.svc.IssueSignupOTP(context.Background(), SignupRequest{Name: "Ada", Email: "ada@example.com", Password: strongPassword})
	require.Error(t, err)
	assert.Equal(t, 0, f.otps.Len())
}

func TestPasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.IssuePasswordResetOTP(ctx, "nobody@example.com"), ErrUserNotFound)

	code := f.signup(t, "ada@example.com")
	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)

	require.NoError(t, f.svc.IssuePasswordResetOTP(ctx, "ada@example.com"))
	reset := f.mail.lastCode(t, "ada@example.com")

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", reset, "weak"), ErrWeakPassword)
	// A reset code cannot complete a signup.
	_, err = f.svc.VerifySignupOTP(ctx, "ada@example.com", reset)
	assert.ErrorIs(t, err, ErrInvalidOTP)

	require.NoError(t, f.svc.ResetPassword(ctx, "ada@example.com", reset, "NewSecret2@"))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ada@example.com", reset, "NewSecret3@"), ErrInvalidOTP)

	_, _, err = f.svc.Login(ctx, "ada@example.com", strongPassword)
	assert.ErrorIs(t, err, ErrInvalidCreds)
	u, tokens, err := f.svc.Login(ctx, "ada@example.com", "NewSecret2@")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestLoginAndRefresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")
	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, "missing@example.com", strongPassword)
	assert.ErrorIs(t, err, ErrInvalidCreds)

	_, tokens, err := f.svc.Login(ctx, "Ada@Example.com", strongPassword)
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = f.svc.Refresh(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

// flakyUsers fails the first Create with a transient error.
type flakyUsers struct {
	UserStore
	failed bool
}

func (u *flakyUsers) Create(ctx context.Context, user *models.User) error {
	if !u.failed {
		u.failed = true
		return errors.New("driver: bad connection")
	}
	return u.UserStore.Create(ctx, user)
}

func TestVerifySignupOTP_TransientCreateFailureKeepsCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")
	f.svc.users = &flakyUsers{UserStore: f.store.Users()}

	_, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, f.otps.Len())

	u, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, 0, f.otps.Len())
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	code := f.signup(t, "ada@example.com")
	u, err := f.svc.VerifySignupOTP(ctx, "ada@example.com", code)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "Wrong1!x", "NewSecret2@"), ErrWrongPassword)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, strongPassword, "weak"), ErrWeakPassword)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID+99, strongPassword, "NewSecret2@"), ErrUserNotFound)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, strongPassword, "NewSecret2@"))
	_, _, err = f.svc.Login(ctx, "ada@example.com", strongPassword)
	assert.ErrorIs(t, err, ErrInvalidCreds)
	_, _, err = f.svc.Login(ctx, "ada@example.com", "NewSecret2@")
	assert.NoError(t, err)
}
