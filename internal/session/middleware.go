package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// CookieName is the cookie that carries the session token for browser flows.
const CookieName = "session_token"

type ctxKey struct{}

// WithAccount returns a context carrying the authenticated account view.
func WithAccount(ctx context.Context, v *AccountView) context.Context {
	return context.WithValue(ctx, ctxKey{}, v)
}

// AccountFrom returns the account stored by Authenticate, if any.
func AccountFrom(ctx context.Context) (*AccountView, bool) {
	v, ok := ctx.Value(ctxKey{}).(*AccountView)
	return v, ok
}

// TokenFromRequest prefers an Authorization bearer token and falls back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate rejects requests without a valid token with 401.
func Authenticate(issuer *Issuer, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := issuer.Verify(TokenFromRequest(r))
			if err != nil {
				logger.Debugw("unauthenticated request", "path", r.URL.Path, "err", err)
				writeError(w, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), &claims.User)))
		})
	}
}

// RequireRoles runs after Authenticate and answers 403 when the role is not allowed.
func RequireRoles(roles ...entity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, ok := AccountFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			if err := Permit(roles, v.Role); err != nil {
				writeError(w, http.StatusForbidden, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
}
