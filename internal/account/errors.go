package account

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrDuplicateEmail         = errors.New("email already registered")
	ErrDuplicateUsername      = errors.New("username already taken")
	ErrWeakPassword           = errors.New("password must be at least 8 characters long and contain upper and lower case letters, a number and a symbol")
	ErrInvalidEmailFormat     = errors.New("invalid email format")
	ErrInvalidCode            = errors.New("invalid verification code")
	ErrAccountNotFound        = errors.New("user not found")
	ErrCodeNotFound           = errors.New("verification code not found")
	ErrAlreadyVerified        = errors.New("user already verified")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account locked")
	ErrRegistrationIncomplete = errors.New("registration not completed, check your email to complete it")
)

// LockedError carries how long the account stays locked. It matches ErrAccountLocked.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d seconds", e.Seconds())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// Seconds is the remaining lock time rounded up to whole seconds.
func (e *LockedError) Seconds() int64 {
	return int64(math.Ceil(e.Remaining.Seconds()))
}
