// Package otp holds one-time codes issued for signup and password reset.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	// ErrInvalid covers a missing entry, a purpose mismatch and a wrong code.
	ErrInvalid = errors.New("invalid otp")
	// ErrExpired is returned when the entry exists but is past its expiry. The entry is purged.
	ErrExpired = errors.New("otp expired")
)

// PendingUser is the signup payload held until the code is verified.
type PendingUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type Entry struct {
	Code      string       `json:"code"`
	Purpose   string       `json:"purpose"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Pending   *PendingUser `json:"pending,omitempty"`
	// Seq identifies the issuance. Cleanup of an older issuance never touches a newer one.
	Seq uint64 `json:"seq"`
}

// Expired reports whether the entry is no longer usable at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store keeps at most one live entry per email.
type Store interface {
	// Issue stores e for email, replacing any previous entry, and returns it with IssuedAt,
	// ExpiresAt and Seq filled in.
	Issue(ctx context.Context, email string, e Entry) (Entry, error)
	// Consume atomically checks purpose and code and removes the entry on success.
	Consume(ctx context.Context, email, purpose, code string, now time.Time) (Entry, error)
	// Withdraw removes the entry only if it is still issuance seq.
	Withdraw(ctx context.Context, email string, seq uint64) (bool, error)
	// Restore puts back a consumed entry, keeping its expiry and seq, when its follow-up work
	// failed. It does nothing if the entry has expired or email already has a newer one.
	Restore(ctx context.Context, email string, e Entry) (bool, error)
	Close() error
}

// GenerateCode returns a random six digit code in 100000..999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", 100000+n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// check decides a consume attempt against a stored entry. purge is true when the entry must be
// removed regardless of the outcome.
func check(e Entry, purpose, code string, now time.Time) (purge bool, err error) {
	if e.Expired(now) {
		return true, ErrExpired
	}
	if e.Purpose != purpose || subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		return false, ErrInvalid
	}
	return true, nil
}
