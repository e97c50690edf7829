package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/session"
)

const stateCookie = "oauth_state"

// Resolver maps a provider profile to a local account.
type Resolver interface {
	ResolveExternalIdentity(ctx context.Context, p account.ExternalProfile) (*account.ResolveResult, error)
}

// Tokens issues and checks session tokens.
type Tokens interface {
	Issue(a *entity.Account) (string, error)
	Verify(token string) (*session.Claims, error)
}

// Handler serves the Google login flow and its browser session.
type Handler struct {
	provider    Provider
	resolver    Resolver
	tokens      Tokens
	logger      *zap.SugaredLogger
	frontendURL string
	appName     string
	secure      bool
	sessionTTL  time.Duration
}

func NewHandler(provider Provider, resolver Resolver, tokens Tokens, logger *zap.SugaredLogger,
	frontendURL, publicURL, appName string, sessionTTL time.Duration) *Handler {
	return &Handler{
		provider:    provider,
		resolver:    resolver,
		tokens:      tokens,
		logger:      logger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		appName:     appName,
		secure:      strings.HasPrefix(publicURL, "https://"),
		sessionTTL:  sessionTTL,
	}
}

// Begin redirects to the consent screen with a fresh state bound to a cookie.
func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback finishes the flow: any failure sends the browser back to the login page.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := r.Cookie(stateCookie)
	h.clearCookie(w, stateCookie, "/auth/google")
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		h.logger.Debugw("oauth state mismatch", "remote", r.RemoteAddr)
		h.redirectLogin(w, r)
		return
	}
	if e := q.Get("error"); e != "" {
		h.logger.Debugw("oauth consent refused", "error", e)
		h.redirectLogin(w, r)
		return
	}

	profile, err := h.provider.Profile(r.Context(), q.Get("code"))
	if err != nil {
		h.logger.Warnw("oauth profile failed", "err", err)
		h.redirectLogin(w, r)
		return
	}
	res, err := h.resolver.ResolveExternalIdentity(r.Context(), profile)
	if err != nil {
		h.logger.Warnw("resolve external identity failed", "err", err)
		h.redirectLogin(w, r)
		return
	}
	token, err := h.tokens.Issue(res.Account)
	if err != nil {
		h.logger.Errorw("issue token failed", "account_id", res.Account.ID, "err", err)
		h.redirectLogin(w, r)
		return
	}
	h.logger.Debugw("oauth login", "account_id", res.Account.ID, "new", res.IsNew)

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	target := h.frontendURL + "/auth/google/complete?" + url.Values{"token": {token}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// Protected greets a browser that holds a valid session cookie.
func (h *Handler) Protected(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(session.CookieName)
	if err != nil {
		h.redirectLogin(w, r)
		return
	}
	claims, err := h.tokens.Verify(c.Value)
	if err != nil {
		h.redirectLogin(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "Welcome to %s, %s!", h.appName, claims.User.Username)
}

// Logout drops the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, session.CookieName, "/")
	h.redirectLogin(w, r)
}

func (h *Handler) redirectLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/users/login", http.StatusFound)
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
