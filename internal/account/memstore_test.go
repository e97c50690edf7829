package account

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
)

// memStore is an in-memory Store. WithTx snapshots the maps and restores them on error.
type memStore struct {
	mu       *sync.Mutex
	accounts map[int64]entity.Account
	codes    map[int64]entity.VerificationCode
	nextID   int64
	inTx     bool
	clock    func() time.Time
}

func newMemStore(clock func() time.Time) *memStore {
	return &memStore{
		mu:       &sync.Mutex{},
		accounts: map[int64]entity.Account{},
		codes:    map[int64]entity.VerificationCode{},
		clock:    clock,
	}
}

func (m *memStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make(map[int64]entity.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	codes := make(map[int64]entity.VerificationCode, len(m.codes))
	for k, v := range m.codes {
		codes[k] = v
	}
	nextID := m.nextID

	m.inTx = true
	err := fn(m)
	m.inTx = false
	if err != nil {
		m.accounts, m.codes, m.nextID = accounts, codes, nextID
	}
	return err
}

func (m *memStore) CreateAccount(ctx context.Context, a *entity.Account) error {
	defer m.lock()()
	for _, existing := range m.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return accountrepo.ErrEmailTaken
		}
		if a.ExternalIdentityID != nil && existing.ExternalIdentityID != nil && *existing.ExternalIdentityID == *a.ExternalIdentityID {
			return accountrepo.ErrExternalIDTaken
		}
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = m.clock()
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = *a
	return nil
}

func (m *memStore) find(match func(entity.Account) bool) (*entity.Account, error) {
	defer m.lock()()
	ids := make([]int64, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if a := m.accounts[id]; match(a) {
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetAccountByID(ctx context.Context, id int64) (*entity.Account, error) {
	return m.find(func(a entity.Account) bool { return a.ID == id })
}

func (m *memStore) GetAccountByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return m.find(func(a entity.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (m *memStore) GetAccountByUsername(ctx context.Context, username string) (*entity.Account, error) {
	return m.find(func(a entity.Account) bool { return a.Username == username })
}

func (m *memStore) GetAccountByExternalID(ctx context.Context, externalID string) (*entity.Account, error) {
	return m.find(func(a entity.Account) bool {
		return a.ExternalIdentityID != nil && *a.ExternalIdentityID == externalID
	})
}

func (m *memStore) ListAccounts(ctx context.Context, limit, offset int) ([]entity.Account, error) {
	defer m.lock()()
	out := make([]entity.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []entity.Account{}, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateAccount(ctx context.Context, id int64, u entity.AccountUpdate) (*entity.Account, error) {
	defer m.lock()()
	a, ok := m.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if u.Email != nil {
		for _, other := range m.accounts {
			if other.ID != id && strings.EqualFold(other.Email, *u.Email) {
				return nil, accountrepo.ErrEmailTaken
			}
		}
		a.Email = *u.Email
	}
	if u.Username != nil {
		a.Username = *u.Username
	}
	if u.Role != nil {
		a.Role = *u.Role
	}
	if u.IsVerified != nil {
		a.IsVerified = *u.IsVerified
	}
	if u.RegistrationCompleted != nil {
		a.RegistrationCompleted = *u.RegistrationCompleted
	}
	m.accounts[id] = a
	return &a, nil
}

func (m *memStore) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	defer m.lock()()
	if _, ok := m.accounts[id]; !ok {
		return false, nil
	}
	delete(m.accounts, id)
	for cid, c := range m.codes {
		if c.AccountID == id {
			delete(m.codes, cid)
		}
	}
	return true, nil
}

func (m *memStore) MarkVerified(ctx context.Context, id int64, completed bool) (*entity.Account, error) {
	defer m.lock()()
	a, ok := m.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	a.IsVerified = true
	if completed {
		a.RegistrationCompleted = true
	}
	m.accounts[id] = a
	return &a, nil
}

func (m *memStore) MarkRegistrationCompleted(ctx context.Context, id int64) error {
	defer m.lock()()
	a, ok := m.accounts[id]
	if ok {
		a.RegistrationCompleted = true
		m.accounts[id] = a
	}
	return nil
}

func (m *memStore) RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil, now time.Time) (*entity.LoginState, error) {
	defer m.lock()()
	a, ok := m.accounts[id]
	if !ok || (a.LockUntil != nil && a.LockUntil.After(now)) {
		return nil, sql.ErrNoRows
	}
	if a.LoginAttempts+1 >= threshold {
		a.LoginAttempts = 0
		lu := lockUntil
		a.LockUntil = &lu
	} else {
		a.LoginAttempts++
		a.LockUntil = nil
	}
	m.accounts[id] = a
	return &entity.LoginState{LoginAttempts: a.LoginAttempts, LockUntil: a.LockUntil}, nil
}

func (m *memStore) ResetLoginAttempts(ctx context.Context, id int64) error {
	defer m.lock()()
	a, ok := m.accounts[id]
	if ok {
		a.LoginAttempts = 0
		a.LockUntil = nil
		m.accounts[id] = a
	}
	return nil
}

func (m *memStore) CreateCode(ctx context.Context, c *entity.VerificationCode) error {
	defer m.lock()()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = m.clock()
	m.codes[c.ID] = *c
	return nil
}

func (m *memStore) GetCode(ctx context.Context, code string) (*entity.VerificationCode, error) {
	defer m.lock()()
	for _, c := range m.codes {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetCodeByAccount(ctx context.Context, accountID int64) (*entity.VerificationCode, error) {
	defer m.lock()()
	var latest *entity.VerificationCode
	for _, c := range m.codes {
		if c.AccountID == accountID && (latest == nil || c.ID > latest.ID) {
			c := c
			latest = &c
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (m *memStore) DeleteCode(ctx context.Context, id int64) error {
	defer m.lock()()
	delete(m.codes, id)
	return nil
}

func (m *memStore) DeleteCodesByAccount(ctx context.Context, accountID int64) error {
	defer m.lock()()
	for id, c := range m.codes {
		if c.AccountID == accountID {
			delete(m.codes, id)
		}
	}
	return nil
}

func (m *memStore) codesFor(accountID int64) []entity.VerificationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.VerificationCode
	for _, c := range m.codes {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) account(id int64) (entity.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}
