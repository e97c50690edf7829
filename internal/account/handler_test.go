package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMux(t *testing.T, f *fixture) *http.ServeMux {
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/register", h.Register)
	mux.HandleFunc("GET /users/verify/{code}", h.Verify)
	mux.HandleFunc("GET /users/complete_registration/{id}", h.CompleteRegistration)
	mux.HandleFunc("POST /users/login", h.Login)
	mux.HandleFunc("GET /users", h.List)
	mux.HandleFunc("GET /users/{id}", h.Get)
	mux.HandleFunc("PUT /users/{id}", h.Update)
	mux.HandleFunc("DELETE /users/{id}", h.Delete)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerRegisterAndVerify(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)

	rec := do(mux, http.MethodPost, "/users/register",
		`{"email":"a@example.com","password":"`+goodPassword+`","username":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "a@example.com", body["email"])
	assert.Contains(t, body["verificationMessage"], "a@example.com")
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = do(mux, http.MethodPost, "/users/register",
		`{"email":"a@example.com","password":"`+goodPassword+`","username":"other"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ErrDuplicateEmail.Error(), decode(t, rec)["message"])

	id := int64(body["id"].(float64))
	code := f.store.codesFor(id)[0].Code
	rec = do(mux, http.MethodGet, "/users/verify/"+code, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "You have successfully been verified!", body["message"])
	assert.Equal(t, true, body["user"].(map[string]any)["isVerified"])

	rec = do(mux, http.MethodGet, "/users/verify/"+code, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRegisterValidation(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)

	rec := do(mux, http.MethodPost, "/users/register", `{"email":"a@example.com","password":"weak","username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrWeakPassword.Error(), decode(t, rec)["message"])

	rec = do(mux, http.MethodPost, "/users/register", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLoginStatuses(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	verified(t, f, "a@example.com", "alice")

	login := func(pw string) *httptest.ResponseRecorder {
		return do(mux, http.MethodPost, "/users/login", fmt.Sprintf(`{"email":"a@example.com","password":%q}`, pw))
	}

	rec := login(goodPassword)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "token-alice", body["token"])
	assert.Equal(t, "alice", body["user"].(map[string]any)["username"])

	assert.Equal(t, http.StatusUnauthorized, login("wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, login("wrong").Code)
	rec = login("wrong")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	rec = do(mux, http.MethodPost, "/users/login", `{"email":"a@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation failed: password is required", decode(t, rec)["message"])

	rec = do(mux, http.MethodPost, "/users/login", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrInvalidEmailFormat.Error(), decode(t, rec)["message"])
}

func TestHandlerLoginUnverified(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	f.register(t, "a@example.com", "alice")

	rec := do(mux, http.MethodPost, "/users/login", `{"email":"a@example.com","password":"`+goodPassword+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerCompleteRegistration(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	a := f.register(t, "a@example.com", "alice")

	rec := do(mux, http.MethodGet, "/users/complete_registration/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/users/complete_registration/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(mux, http.MethodGet, fmt.Sprintf("/users/complete_registration/%d", a.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "You have successfully completed the registration!", decode(t, rec)["message"])
}

func TestHandlerAdmin(t *testing.T) {
	f := newFixture(t)
	mux := newTestMux(t, f)
	a := f.register(t, "a@example.com", "alice")
	path := fmt.Sprintf("/users/%d", a.ID)

	rec := do(mux, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(mux, http.MethodPut, path, `{"role":"company","username":"alice2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "company", body["role"])
	assert.Equal(t, "alice2", body["username"])

	rec = do(mux, http.MethodPut, path, `{"role":"root"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(mux, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ErrValidation:                          http.StatusBadRequest,
		ErrWeakPassword:                        http.StatusBadRequest,
		ErrInvalidEmailFormat:                  http.StatusBadRequest,
		ErrInvalidCode:                         http.StatusBadRequest,
		ErrDuplicateEmail:                      http.StatusConflict,
		ErrDuplicateUsername:                   http.StatusConflict,
		ErrAlreadyVerified:                     http.StatusConflict,
		ErrAccountNotFound:                     http.StatusNotFound,
		ErrCodeNotFound:                        http.StatusNotFound,
		ErrInvalidCredentials:                  http.StatusUnauthorized,
		&LockedError{}:                         http.StatusLocked,
		ErrRegistrationIncomplete:              http.StatusForbidden,
		fmt.Errorf("wrap: %w", ErrValidation):  http.StatusBadRequest,
		errors.New("connection reset by peer"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestHandlerHidesInternalErrors(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)

	h.writeError(rec, req, "get failed", errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec)["message"])
}
