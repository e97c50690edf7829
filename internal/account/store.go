package account

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
)

// Store is the persistence the service needs. Lookups return sql.ErrNoRows
// when nothing matches; unique violations come back as accountrepo.ErrEmailTaken
// or accountrepo.ErrExternalIDTaken.
type Store interface {
	CreateAccount(ctx context.Context, a *entity.Account) error
	GetAccountByID(ctx context.Context, id int64) (*entity.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*entity.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*entity.Account, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*entity.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]entity.Account, error)
	UpdateAccount(ctx context.Context, id int64, u entity.AccountUpdate) (*entity.Account, error)
	DeleteAccount(ctx context.Context, id int64) (bool, error)
	MarkVerified(ctx context.Context, id int64, completed bool) (*entity.Account, error)
	MarkRegistrationCompleted(ctx context.Context, id int64) error
	RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil, now time.Time) (*entity.LoginState, error)
	ResetLoginAttempts(ctx context.Context, id int64) error

	CreateCode(ctx context.Context, c *entity.VerificationCode) error
	GetCode(ctx context.Context, code string) (*entity.VerificationCode, error)
	GetCodeByAccount(ctx context.Context, accountID int64) (*entity.VerificationCode, error)
	DeleteCode(ctx context.Context, id int64) error
	DeleteCodesByAccount(ctx context.Context, accountID int64) error

	// WithTx runs fn in one transaction; an error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type sqlStore struct {
	*accountrepo.AccountRepo
}

// NewSQLStore backs Store with the postgres repository.
func NewSQLStore(db *sqlx.DB) Store {
	return sqlStore{accountrepo.NewAccountRepo(db)}
}

func (s sqlStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.AccountRepo.WithTx(ctx, func(tx *accountrepo.AccountRepo) error {
		return fn(sqlStore{tx})
	})
}
