package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUserNotFound  = fmt.Errorf("%w: user", ErrNotFound)
	ErrOrderNotFound = fmt.Errorf("%w: order", ErrNotFound)

	ErrUnauthorized = errors.New("not allowed")
	ErrInvalidCreds = errors.New("invalid email or password")
	ErrEmailExists  = errors.New("email already registered")

	ErrValidation      = errors.New("validation failed")
	ErrInvalidOTP      = fmt.Errorf("%w: invalid otp", ErrValidation)
	ErrOTPExpired      = fmt.Errorf("%w: otp expired", ErrValidation)
	ErrWeakPassword    = fmt.Errorf("%w: password must be at least 8 characters and contain upper and lower case letters, a digit and one of @$!%%*?&", ErrValidation)
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email format", ErrValidation)
	ErrWrongPassword   = fmt.Errorf("%w: current password is incorrect", ErrValidation)
	ErrInvalidCampaign = fmt.Errorf("%w: invalid notification", ErrValidation)
)
