package router

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
	"github.com/ovaphlow/pitchfork/service-account/internal/session"
)

func newTestRouter(t *testing.T) (http.Handler, *session.Issuer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lg := zaptest.NewLogger(t).Sugar()
	iss := session.NewIssuer("secret", time.Hour, 1)
	svc := account.NewService(account.NewSQLStore(sqlx.NewDb(db, "postgres")), nil, notify.NewLogNotifier(lg),
		notify.Templates{AppName: "Project X", FrontendURL: "https://app.example.com"}, iss, lg, account.Options{})

	h := RegisterRoutes(Deps{
		Logger:   lg,
		Accounts: account.NewHandler(svc, lg),
		Issuer:   iss,
		AppName:  "Project X",
	})
	return h, iss, mock
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootAndHealth(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := get(h, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Project X!", rec.Body.String())

	rec = get(h, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 27)

	assert.Equal(t, http.StatusNotFound, get(h, "/nope", "").Code)
}

func TestRequestIDIsReused(t *testing.T) {
	h, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestUsersRouteRoleGate(t *testing.T) {
	h, iss, mock := newTestRouter(t)

	userTok, err := iss.Issue(&entity.Account{ID: 1, Role: entity.RoleUser})
	require.NoError(t, err)
	companyTok, err := iss.Issue(&entity.Account{ID: 2, Role: entity.RoleCompany})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/users", "").Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/users", userTok).Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/users/1", userTok).Code)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts ORDER BY id LIMIT $1 OFFSET $2")).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "password_hash", "role", "is_verified",
			"registration_completed", "login_attempts", "lock_until", "external_identity_id", "created_at", "updated_at"}).
			AddRow(int64(1), "a@example.com", "alice", "hash", "user", true, true, 0, nil, nil, now, now))

	rec := get(h, "/users", companyTok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@example.com"`)
	assert.NotContains(t, rec.Body.String(), "hash")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOAuthRoutesAbsentWithoutProvider(t *testing.T) {
	h, _, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, get(h, "/auth/google", "").Code)
}
