package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"flavorfleet/config"
	"flavorfleet/internal/auth"
	"flavorfleet/internal/domain"
	"flavorfleet/internal/metrics"
	"flavorfleet/internal/models"
	"flavorfleet/internal/otp"
	"flavorfleet/pkg/mailer"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

const passwordSpecials = "@$!%*?&"

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthService struct {
	cfg    *config.Config
	users  UserStore
	otps   otp.Store
	hasher auth.PasswordHasher
	mail   mailer.Mailer
	log    *zap.Logger
	now    func() time.Time
}

func NewAuthService(cfg *config.Config, users UserStore, otps otp.Store, hasher auth.PasswordHasher, mail mailer.Mailer, log *zap.Logger) *AuthService {
	return &AuthService{
		cfg:    cfg,
		users:  users,
		otps:   otps,
		hasher: hasher,
		mail:   mail,
		log:    log,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// validatePassword requires at least 8 characters drawn only from letters, digits and
// @$!%*?&, with at least one of each class.
func validatePassword(p string) error {
	if len(p) < 8 {
		return ErrWeakPassword
	}
	var lower, upper, digit, special bool
	for _, r := range p {
		switch {
		case r > unicode.MaxASCII:
			return ErrWeakPassword
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return ErrWeakPassword
		}
	}
	if !lower || !upper || !digit || !special {
		return ErrWeakPassword
	}
	return nil
}

func (s *AuthService) accountExists(ctx context.Context, email string) (*models.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

// IssueSignupOTP holds the signup request in the OTP registry and mails the code. Nothing is
// persisted until the code is verified.
func (s *AuthService) IssueSignupOTP(ctx context.Context, req SignupRequest) error {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}
	existing, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrEmailExists
	}
	role := domain.RoleUser
	if s.cfg.Admin.IsAdminEmail(email) {
		role = domain.RoleAdmin
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}
	entry, err := s.otps.Issue(ctx, email, otp.Entry{
		Code:    code,
		Purpose: domain.OTPPurposeSignup,
		Pending: &otp.PendingUser{Name: name, Email: email, Password: req.Password, Role: role},
	})
	if err != nil {
		return fmt.Errorf("store signup code: %w", err)
	}
	body, err := mailer.SignupOTPBody(name, code, s.cfg.OTP.TTL)
	if err == nil {
		err = s.mail.Send(ctx, email, mailer.SubjectSignupOTP, body)
	}
	if err != nil {
		s.withdraw(email, entry.Seq)
		return fmt.Errorf("send signup code: %w", err)
	}
	metrics.RecordOTPIssued(domain.OTPPurposeSignup)
	s.log.Info("signup code issued", zap.String("email", email))
	return nil
}

// withdraw removes an entry whose code email failed, unless it was already re-issued.
func (s *AuthService) withdraw(email string, seq uint64) {
	if _, err := s.otps.Withdraw(context.Background(), email, seq); err != nil {
		s.log.Warn("withdraw otp failed", zap.String("email", email), zap.Error(err))
	}
}

// restore gives back a consumed signup code after a transient failure so the user can retry
// without registering again.
func (s *AuthService) restore(email string, e otp.Entry) {
	ok, err := s.otps.Restore(context.Background(), email, e)
	if err != nil {
		s.log.Warn("restore otp failed", zap.String("email", email), zap.Error(err))
		return
	}
	if ok {
		s.log.Info("signup code restored after failure", zap.String("email", email))
	}
}

func otpError(err error) error {
	switch {
	case errors.Is(err, otp.ErrExpired):
		return ErrOTPExpired
	case errors.Is(err, otp.ErrInvalid):
		return ErrInvalidOTP
	}
	return err
}

// VerifySignupOTP consumes the signup code and creates the account.
func (s *AuthService) VerifySignupOTP(ctx context.Context, email, code string) (*models.User, error) {
	email = normalizeEmail(email)
	entry, err := s.otps.Consume(ctx, email, domain.OTPPurposeSignup, strings.TrimSpace(code), s.now())
	if err != nil {
		return nil, otpError(err)
	}
	if entry.Pending == nil {
		return nil, ErrInvalidOTP
	}
	hash, err := s.hasher.Encode(entry.Pending.Password)
	if err != nil {
		s.restore(email, entry)
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		Name:         entry.Pending.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         entry.Pending.Role,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailExists
		}
		s.restore(email, entry)
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", zap.Uint("user_id", u.ID), zap.String("role", u.Role))

	body, err := mailer.WelcomeBody(u.Name)
	if err == nil {
		err = s.mail.Send(ctx, u.Email, mailer.SubjectWelcome, body)
	}
	if err != nil {
		s.log.Warn("welcome email failed", zap.Uint("user_id", u.ID), zap.Error(err))
	}
	return u, nil
}

// IssuePasswordResetOTP mails a reset code to an existing account.
func (s *AuthService) IssuePasswordResetOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	u, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}
	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}
	entry, err := s.otps.Issue(ctx, email, otp.Entry{Code: code, Purpose: domain.OTPPurposeReset})
	if err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}
	body, err := mailer.ResetOTPBody(code, s.cfg.OTP.TTL)
	if err == nil {
		err = s.mail.Send(ctx, email, mailer.SubjectResetOTP, body)
	}
	if err != nil {
		s.withdraw(email, entry.Seq)
		return fmt.Errorf("send reset code: %w", err)
	}
	metrics.RecordOTPIssued(domain.OTPPurposeReset)
	s.log.Info("reset code issued", zap.Uint("user_id", u.ID))
	return nil
}

// ResetPassword consumes the reset code and stores the new password hash.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}
	if _, err := s.otps.Consume(ctx, email, domain.OTPPurposeReset, strings.TrimSpace(code), s.now()); err != nil {
		return otpError(err)
	}
	hash, err := s.hasher.Encode(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password reset", zap.Uint("user_id", u.ID))
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Matches(current, u.PasswordHash) {
		s.log.Warn("change password rejected", zap.Uint("user_id", u.ID))
		return ErrWrongPassword
	}
	hash, err := s.hasher.Encode(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password changed", zap.Uint("user_id", u.ID))
	return nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *auth.TokenPair, error) {
	u, err := s.accountExists(ctx, normalizeEmail(email))
	if err != nil {
		return nil, nil, err
	}
	if u == nil || !s.hasher.Matches(password, u.PasswordHash) {
		return nil, nil, ErrInvalidCreds
	}
	tokens, err := s.IssueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	userID, err := auth.ParseRefreshToken(&s.cfg.JWT, refreshToken)
	if err != nil {
		return nil, ErrInvalidCreds
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}
	return s.IssueTokens(u)
}

func (s *AuthService) IssueTokens(u *models.User) (*auth.TokenPair, error) {
	return auth.IssueTokens(&s.cfg.JWT, u.ID, u.Email, u.Role)
}
