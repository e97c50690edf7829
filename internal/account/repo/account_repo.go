package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

var (
	ErrEmailTaken      = errors.New("email already taken")
	ErrExternalIDTaken = errors.New("external identity already linked")
)

const accountColumns = `id, email, username, password_hash, role, is_verified, registration_completed,
	login_attempts, lock_until, external_identity_id, created_at, updated_at`

// AccountRepo provides data access for the accounts and verification_codes tables using sqlx.
// The same repo works on the pool or on a transaction, see WithTx.
type AccountRepo struct {
	db      *sqlx.DB
	ext     sqlx.ExtContext
	builder squirrel.StatementBuilderType
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo {
	return &AccountRepo{db: db, ext: db, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// EnsureTable creates both tables if they do not exist (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  email CITEXT NOT NULL UNIQUE,
  username TEXT NOT NULL,
  password_hash TEXT,
  role TEXT NOT NULL DEFAULT 'user',
  is_verified BOOLEAN NOT NULL DEFAULT false,
  registration_completed BOOLEAN NOT NULL DEFAULT false,
  login_attempts INT NOT NULL DEFAULT 0,
  lock_until TIMESTAMPTZ,
  external_identity_id TEXT UNIQUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);
CREATE TABLE IF NOT EXISTS verification_codes (
  id BIGSERIAL PRIMARY KEY,
  code CHAR(64) NOT NULL UNIQUE,
  account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_verification_codes_account ON verification_codes(account_id);
`
	_, err := r.ext.ExecContext(ctx, ddl)
	return err
}

// WithTx runs fn against a repo bound to a single transaction. A repo that is
// already inside a transaction reuses it.
func (r *AccountRepo) WithTx(ctx context.Context, fn func(tx *AccountRepo) error) error {
	if _, inTx := r.ext.(*sqlx.Tx); inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&AccountRepo{db: r.db, ext: tx, builder: r.builder}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account and fills in its ID and timestamps.
func (r *AccountRepo) CreateAccount(ctx context.Context, a *entity.Account) error {
	q := `INSERT INTO accounts (email, username, password_hash, role, is_verified, registration_completed, external_identity_id)
		  VALUES (:email, :username, :password_hash, :role, :is_verified, :registration_completed, :external_identity_id)
		  RETURNING id, created_at, updated_at`
	rows, err := sqlx.NamedQueryContext(ctx, r.ext, q, a)
	if err != nil {
		return mapUniqueViolation(err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	}
	if err := rows.Err(); err != nil {
		return mapUniqueViolation(err)
	}
	return errors.New("no id returned")
}

func (r *AccountRepo) getAccount(ctx context.Context, where string, arg any) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where
	var a entity.Account
	if err := sqlx.GetContext(ctx, r.ext, &a, q, arg); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByID returns the account or sql.ErrNoRows.
func (r *AccountRepo) GetAccountByID(ctx context.Context, id int64) (*entity.Account, error) {
	return r.getAccount(ctx, "id=$1", id)
}

// GetAccountByEmail matches case-insensitively (citext).
func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.getAccount(ctx, "email=$1", email)
}

func (r *AccountRepo) GetAccountByUsername(ctx context.Context, username string) (*entity.Account, error) {
	return r.getAccount(ctx, "username=$1 ORDER BY id LIMIT 1", username)
}

func (r *AccountRepo) GetAccountByExternalID(ctx context.Context, externalID string) (*entity.Account, error) {
	return r.getAccount(ctx, "external_identity_id=$1", externalID)
}

// ListAccounts pages through accounts ordered by id.
func (r *AccountRepo) ListAccounts(ctx context.Context, limit, offset int) ([]entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id LIMIT $1 OFFSET $2`
	out := []entity.Account{}
	if err := sqlx.SelectContext(ctx, r.ext, &out, q, limit, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAccount applies the non-nil fields of u and returns the updated row.
func (r *AccountRepo) UpdateAccount(ctx context.Context, id int64, u entity.AccountUpdate) (*entity.Account, error) {
	b := r.builder.Update("accounts")
	if u.Username != nil {
		b = b.Set("username", *u.Username)
	}
	if u.Email != nil {
		b = b.Set("email", *u.Email)
	}
	if u.Role != nil {
		b = b.Set("role", string(*u.Role))
	}
	if u.IsVerified != nil {
		b = b.Set("is_verified", *u.IsVerified)
	}
	if u.RegistrationCompleted != nil {
		b = b.Set("registration_completed", *u.RegistrationCompleted)
	}
	q, args, err := b.Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + accountColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update account sql: %w", err)
	}
	var a entity.Account
	if err := sqlx.GetContext(ctx, r.ext, &a, q, args...); err != nil {
		return nil, mapUniqueViolation(err)
	}
	return &a, nil
}

// DeleteAccount removes the account; its verification codes cascade.
func (r *AccountRepo) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	res, err := r.ext.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkVerified sets is_verified, and registration_completed too when completed is true.
// Returns sql.ErrNoRows when the account does not exist.
func (r *AccountRepo) MarkVerified(ctx context.Context, id int64, completed bool) (*entity.Account, error) {
	q := `UPDATE accounts SET is_verified=true, updated_at=NOW() WHERE id=$1 RETURNING ` + accountColumns
	if completed {
		q = `UPDATE accounts SET is_verified=true, registration_completed=true, updated_at=NOW() WHERE id=$1 RETURNING ` + accountColumns
	}
	var a entity.Account
	if err := sqlx.GetContext(ctx, r.ext, &a, q, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) MarkRegistrationCompleted(ctx context.Context, id int64) error {
	const q = `UPDATE accounts SET registration_completed=true, updated_at=NOW() WHERE id=$1`
	_, err := r.ext.ExecContext(ctx, q, id)
	return err
}

// RecordFailedLogin counts one failed password check in a single statement.
// On reaching threshold the counter goes back to 0 and lock_until is set.
// The row is only touched when it is not locked at now; sql.ErrNoRows means
// another request locked it first.
func (r *AccountRepo) RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil, now time.Time) (*entity.LoginState, error) {
	const q = `UPDATE accounts SET
		login_attempts = CASE WHEN login_attempts + 1 >= $2 THEN 0 ELSE login_attempts + 1 END,
		lock_until = CASE WHEN login_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
		updated_at = NOW()
	  WHERE id=$1 AND (lock_until IS NULL OR lock_until <= $4)
	  RETURNING login_attempts, lock_until`
	var st entity.LoginState
	if err := sqlx.GetContext(ctx, r.ext, &st, q, id, threshold, lockUntil, now); err != nil {
		return nil, err
	}
	return &st, nil
}

// ResetLoginAttempts clears the counter and any lock after a successful password check.
func (r *AccountRepo) ResetLoginAttempts(ctx context.Context, id int64) error {
	const q = `UPDATE accounts SET login_attempts=0, lock_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.ext.ExecContext(ctx, q, id)
	return err
}

// CreateCode inserts a verification code and fills in its ID and creation time.
func (r *AccountRepo) CreateCode(ctx context.Context, c *entity.VerificationCode) error {
	const q = `INSERT INTO verification_codes (code, account_id) VALUES ($1, $2) RETURNING id, created_at`
	if err := r.ext.QueryRowxContext(ctx, q, c.Code, c.AccountID).Scan(&c.ID, &c.CreatedAt); err != nil {
		return err
	}
	return nil
}

// GetCode returns the code row or sql.ErrNoRows.
func (r *AccountRepo) GetCode(ctx context.Context, code string) (*entity.VerificationCode, error) {
	const q = `SELECT id, code, account_id, created_at FROM verification_codes WHERE code=$1`
	var c entity.VerificationCode
	if err := sqlx.GetContext(ctx, r.ext, &c, q, code); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCodeByAccount returns the newest code issued to the account or sql.ErrNoRows.
func (r *AccountRepo) GetCodeByAccount(ctx context.Context, accountID int64) (*entity.VerificationCode, error) {
	const q = `SELECT id, code, account_id, created_at FROM verification_codes
	  WHERE account_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`
	var c entity.VerificationCode
	if err := sqlx.GetContext(ctx, r.ext, &c, q, accountID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *AccountRepo) DeleteCode(ctx context.Context, id int64) error {
	_, err := r.ext.ExecContext(ctx, `DELETE FROM verification_codes WHERE id=$1`, id)
	return err
}

func (r *AccountRepo) DeleteCodesByAccount(ctx context.Context, accountID int64) error {
	_, err := r.ext.ExecContext(ctx, `DELETE FROM verification_codes WHERE account_id=$1`, accountID)
	return err
}

// mapUniqueViolation turns postgres unique violations on accounts into sentinel errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "accounts_email_key":
		return fmt.Errorf("%w: %v", ErrEmailTaken, err)
	case "accounts_external_identity_id_key":
		return fmt.Errorf("%w: %v", ErrExternalIDTaken, err)
	}
	return err
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
