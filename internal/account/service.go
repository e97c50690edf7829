package account

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
)

// TokenIssuer creates the session token handed out on login.
type TokenIssuer interface {
	Issue(a *entity.Account) (string, error)
}

// Options are the lockout and code lifetime knobs.
type Options struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
	// CodeTTL bounds how long a verification code is accepted; zero means forever.
	CodeTTL time.Duration
}

// Service orchestrates registration, verification and authentication flows.
type Service struct {
	store    Store
	hasher   PasswordHasher
	notifier notify.Notifier
	mails    notify.Templates
	tokens   TokenIssuer
	validate *validator.Validate
	logger   *zap.SugaredLogger
	opts     Options
	now      func() time.Time
}

func NewService(store Store, hasher PasswordHasher, notifier notify.Notifier, mails notify.Templates,
	tokens TokenIssuer, logger *zap.SugaredLogger, opts Options) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 10}
	}
	if opts.MaxLoginAttempts <= 0 {
		opts.MaxLoginAttempts = 3
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = 300 * time.Second
	}
	return &Service{
		store:    store,
		hasher:   hasher,
		notifier: notifier,
		mails:    mails,
		tokens:   tokens,
		validate: newValidator(),
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// RegisterInput is the self-service registration payload.
type RegisterInput struct {
	Email    string      `json:"email" validate:"email"`
	Password string      `json:"password" validate:"strongpassword"`
	Username string      `json:"username" validate:"required,max=100"`
	Role     entity.Role `json:"role" validate:"role"`
}

type RegisterResult struct {
	Account *entity.Account
	Message string
}

// Register creates an unverified account, mails a verification link and stores its code.
// Nothing is persisted unless both the account and the code are.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = entity.RoleUser
	}

	if _, err := s.store.GetAccountByUsername(ctx, in.Username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if _, err := s.store.GetAccountByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}

	a := &entity.Account{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: &hash,
		Role:         in.Role,
	}
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			if errors.Is(err, accountrepo.ErrEmailTaken) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("create account: %w", err)
		}
		// the account is still usable through complete_registration if this mail is lost
		if err := s.sendVerification(ctx, a, code); err != nil {
			s.logger.Warnw("verification email not sent", "account_id", a.ID, "err", err)
		}
		if err := tx.CreateCode(ctx, &entity.VerificationCode{Code: code, AccountID: a.ID}); err != nil {
			return fmt.Errorf("create verification code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("account registered", "account_id", a.ID)
	return &RegisterResult{
		Account: a,
		Message: fmt.Sprintf("User created successfully. Please check your email (%s) for account verification instructions.", a.Email),
	}, nil
}

// VerifyByCode consumes a code and marks its account verified and registration completed.
func (s *Service) VerifyByCode(ctx context.Context, code string) (*entity.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	c, err := s.store.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if c.Expired(s.now(), s.opts.CodeTTL) {
		s.logger.Debugw("expired verification code", "account_id", c.AccountID)
		return nil, ErrInvalidCode
	}

	var out *entity.Account
	err = s.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.MarkVerified(ctx, c.AccountID, true)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInvalidCode
			}
			return fmt.Errorf("mark verified: %w", err)
		}
		if err := s.sendWelcome(ctx, a); err != nil {
			return err
		}
		if err := tx.DeleteCode(ctx, c.ID); err != nil {
			return fmt.Errorf("delete code: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteRegistration verifies an account through its id while it still holds a code.
// The welcome email goes out only if registration was not completed before.
func (s *Service) CompleteRegistration(ctx context.Context, accountID int64) (*entity.Account, error) {
	a, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	c, err := s.store.GetCodeByAccount(ctx, a.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if c.Expired(s.now(), s.opts.CodeTTL) {
		return nil, ErrCodeNotFound
	}
	if a.IsVerified {
		return nil, ErrAlreadyVerified
	}

	var out *entity.Account
	err = s.store.WithTx(ctx, func(tx Store) error {
		updated, err := tx.MarkVerified(ctx, a.ID, false)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("mark verified: %w", err)
		}
		if !a.RegistrationCompleted {
			if err := s.sendWelcome(ctx, updated); err != nil {
				return err
			}
			if err := tx.MarkRegistrationCompleted(ctx, a.ID); err != nil {
				return fmt.Errorf("mark registration completed: %w", err)
			}
			updated.RegistrationCompleted = true
		}
		if err := tx.DeleteCodesByAccount(ctx, a.ID); err != nil {
			return fmt.Errorf("delete codes: %w", err)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type LoginResult struct {
	Account *entity.Account
	Token   string
}

// Login checks a password against the lockout state machine. Failed checks are
// counted with one conditional update so concurrent attempts cannot lose counts.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	a, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now()
	if locked, remaining := a.LockedAt(now); locked {
		return nil, &LockedError{Remaining: remaining}
	}

	cred, err := a.Credential()
	if err != nil {
		if errors.Is(err, entity.ErrNoCredential) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("account %d: %w", a.ID, err)
	}
	local, ok := cred.(entity.LocalCredential)
	if !ok {
		// federated accounts have no password to check
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(local.PasswordHash, password) {
		return nil, s.recordFailure(ctx, a.ID, now)
	}

	if err := s.store.ResetLoginAttempts(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("reset login attempts: %w", err)
	}
	a.LoginAttempts = 0
	a.LockUntil = nil

	if !a.IsVerified {
		msg, err := s.mails.CompleteRegistration(a.Email, a.ID)
		if err != nil {
			return nil, err
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			return nil, fmt.Errorf("send complete registration email: %w", err)
		}
		return nil, ErrRegistrationIncomplete
	}

	token, err := s.tokens.Issue(a)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Account: a, Token: token}, nil
}

func (s *Service) recordFailure(ctx context.Context, id int64, now time.Time) error {
	st, err := s.store.RecordFailedLogin(ctx, id, s.opts.MaxLoginAttempts, now.Add(s.opts.LockDuration), now)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record failed login: %w", err)
		}
		// a concurrent attempt locked the row first
		a, gErr := s.store.GetAccountByID(ctx, id)
		if gErr != nil {
			return fmt.Errorf("reload account: %w", gErr)
		}
		if locked, remaining := a.LockedAt(now); locked {
			return &LockedError{Remaining: remaining}
		}
		return ErrInvalidCredentials
	}
	if st.LockUntil != nil {
		s.logger.Warnw("account locked after failed logins", "account_id", id, "until", *st.LockUntil)
		return &LockedError{Remaining: st.LockUntil.Sub(now)}
	}
	s.logger.Debugw("failed login", "account_id", id, "attempts", st.LoginAttempts)
	return ErrInvalidCredentials
}

// ExternalProfile is what an identity provider tells us about a user.
type ExternalProfile struct {
	ID         string
	Email      string
	GivenName  string
	FamilyName string
}

type ResolveResult struct {
	Account *entity.Account
	// IsNew is set when the account was created by this call. It is never stored.
	IsNew bool
}

// ResolveExternalIdentity finds the account linked to an external identity or
// creates a verified one. An email that belongs to another account is refused.
func (s *Service) ResolveExternalIdentity(ctx context.Context, p ExternalProfile) (*ResolveResult, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: external identity id is required", ErrValidation)
	}
	if a, err := s.store.GetAccountByExternalID(ctx, p.ID); err == nil {
		return &ResolveResult{Account: a}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup external identity: %w", err)
	}

	email := normalizeEmail(p.Email)
	if err := s.validate.Var(email, "email"); err != nil {
		return nil, ErrInvalidEmailFormat
	}
	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	username := strings.TrimSpace(p.GivenName + " " + p.FamilyName)
	if username == "" {
		username = email
	}
	extID := p.ID
	a := &entity.Account{
		Email:                 email,
		Username:              username,
		Role:                  entity.RoleUser,
		IsVerified:            true,
		RegistrationCompleted: true,
		ExternalIdentityID:    &extID,
	}
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		return s.sendWelcome(ctx, a)
	})
	switch {
	case err == nil:
	case errors.Is(err, accountrepo.ErrEmailTaken):
		return nil, ErrDuplicateEmail
	case errors.Is(err, accountrepo.ErrExternalIDTaken):
		// lost a race with a concurrent callback for the same identity
		existing, gErr := s.store.GetAccountByExternalID(ctx, p.ID)
		if gErr != nil {
			return nil, fmt.Errorf("reload external identity: %w", gErr)
		}
		return &ResolveResult{Account: existing}, nil
	default:
		return nil, fmt.Errorf("create external account: %w", err)
	}

	s.logger.Debugw("external account created", "account_id", a.ID)
	return &ResolveResult{Account: a, IsNew: true}, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// List pages through accounts for administrators.
func (s *Service) List(ctx context.Context, limit, offset int) ([]entity.Account, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListAccounts(ctx, limit, offset)
}

func (s *Service) Get(ctx context.Context, id int64) (*entity.Account, error) {
	a, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// Update applies an administrative partial update.
func (s *Service) Update(ctx context.Context, id int64, u entity.AccountUpdate) (*entity.Account, error) {
	if u.Username != nil {
		name := strings.TrimSpace(*u.Username)
		if name == "" {
			return nil, fmt.Errorf("%w: username must not be empty", ErrValidation)
		}
		u.Username = &name
		if other, err := s.store.GetAccountByUsername(ctx, name); err == nil {
			if other.ID != id {
				return nil, ErrDuplicateUsername
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup username: %w", err)
		}
	}
	if u.Email != nil {
		email := normalizeEmail(*u.Email)
		if err := s.validate.Var(email, "email"); err != nil {
			return nil, ErrInvalidEmailFormat
		}
		u.Email = &email
	}
	if u.Role != nil && !u.Role.Valid() {
		return nil, fmt.Errorf("%w: role must be one of user, admin, company", ErrValidation)
	}
	if u.Empty() {
		return s.Get(ctx, id)
	}

	a, err := s.store.UpdateAccount(ctx, id, u)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrAccountNotFound
		case errors.Is(err, accountrepo.ErrEmailTaken):
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) sendVerification(ctx context.Context, a *entity.Account, code string) error {
	msg, err := s.mails.Verification(a.Email, a.Username, code)
	if err != nil {
		return err
	}
	return s.notifier.Send(ctx, msg)
}

func (s *Service) sendWelcome(ctx context.Context, a *entity.Account) error {
	msg, err := s.mails.Welcome(a.Email, a.Username)
	if err != nil {
		return err
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	return nil
}

// newVerificationCode returns 32 random bytes as 64 hex characters.
func newVerificationCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
