package entity

import (
	"errors"
	"time"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleCompany Role = "company"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleCompany:
		return true
	}
	return false
}

// Account represents a row in the `accounts` table.
type Account struct {
	ID                    int64      `db:"id" json:"id"`
	Email                 string     `db:"email" json:"email"`
	Username              string     `db:"username" json:"username"`
	PasswordHash          *string    `db:"password_hash" json:"-"`
	Role                  Role       `db:"role" json:"role"`
	IsVerified            bool       `db:"is_verified" json:"isVerified"`
	RegistrationCompleted bool       `db:"registration_completed" json:"registrationCompleted"`
	LoginAttempts         int        `db:"login_attempts" json:"loginAttempts"`
	LockUntil             *time.Time `db:"lock_until" json:"lockUntil,omitempty"`
	ExternalIdentityID    *string    `db:"external_identity_id" json:"-"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

var (
	ErrNoCredential        = errors.New("account has no credential")
	ErrAmbiguousCredential = errors.New("account has both a password and an external identity")
)

// Credential is either a LocalCredential or a FederatedCredential.
type Credential interface {
	credential()
}

type LocalCredential struct {
	PasswordHash string
}

type FederatedCredential struct {
	ExternalID string
}

func (LocalCredential) credential()     {}
func (FederatedCredential) credential() {}

// Credential derives the way this account authenticates. Exactly one of
// password hash and external identity must be set.
func (a *Account) Credential() (Credential, error) {
	hasLocal := a.PasswordHash != nil && *a.PasswordHash != ""
	hasFederated := a.ExternalIdentityID != nil && *a.ExternalIdentityID != ""
	switch {
	case hasLocal && hasFederated:
		return nil, ErrAmbiguousCredential
	case hasLocal:
		return LocalCredential{PasswordHash: *a.PasswordHash}, nil
	case hasFederated:
		return FederatedCredential{ExternalID: *a.ExternalIdentityID}, nil
	}
	return nil, ErrNoCredential
}

// LockedAt reports whether the account is locked at now and for how long.
func (a *Account) LockedAt(now time.Time) (bool, time.Duration) {
	if a.LockUntil == nil || !a.LockUntil.After(now) {
		return false, 0
	}
	return true, a.LockUntil.Sub(now)
}

// VerificationCode is a single-use email verification token.
type VerificationCode struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"`
	AccountID int64     `db:"account_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the code is older than ttl. A zero ttl never expires.
func (c *VerificationCode) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !now.Before(c.CreatedAt.Add(ttl))
}

// AccountUpdate carries a partial administrative update; nil fields are left alone.
type AccountUpdate struct {
	Username              *string
	Email                 *string
	Role                  *Role
	IsVerified            *bool
	RegistrationCompleted *bool
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.Role == nil && u.IsVerified == nil && u.RegistrationCompleted == nil
}

// LoginState is the counter pair written by a failed login.
type LoginState struct {
	LoginAttempts int        `db:"login_attempts"`
	LockUntil     *time.Time `db:"lock_until"`
}
