package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-account/internal/session"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type requestIDKey struct{}

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware tags each request with a KSUID, reusing an incoming X-Request-ID.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = utilities.NewKSUID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			// allow none for camera, microphone, geolocation by default
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// HSTS only over TLS, 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and collaborators the routes are mounted on.
type Deps struct {
	Logger   *zap.SugaredLogger
	Accounts *account.Handler
	// OAuth is nil when Google login is not configured; its routes are then not mounted.
	OAuth   *oauth.Handler
	Issuer  *session.Issuer
	AppName string
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	logger := d.Logger

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Welcome to " + d.AppName + "!"))
	})

	// health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// public account routes
	mux.HandleFunc("POST /users/register", d.Accounts.Register)
	mux.HandleFunc("GET /users/verify/{code}", d.Accounts.Verify)
	mux.HandleFunc("GET /users/complete_registration/{id}", d.Accounts.CompleteRegistration)
	mux.HandleFunc("POST /users/login", d.Accounts.Login)

	// administrative routes
	staff := func(h http.HandlerFunc) http.Handler {
		return session.Authenticate(d.Issuer, logger)(session.RequireRoles(entity.RoleAdmin, entity.RoleCompany)(h))
	}
	mux.Handle("GET /users", staff(d.Accounts.List))
	mux.Handle("GET /users/{id}", staff(d.Accounts.Get))
	mux.Handle("PUT /users/{id}", staff(d.Accounts.Update))
	mux.Handle("DELETE /users/{id}", staff(d.Accounts.Delete))

	if d.OAuth != nil {
		mux.HandleFunc("GET /auth/google", d.OAuth.Begin)
		mux.HandleFunc("GET /auth/google/callback", d.OAuth.Callback)
		mux.HandleFunc("GET /auth/google/protected", d.OAuth.Protected)
		mux.HandleFunc("GET /auth/logout", d.OAuth.Logout)
	}

	// wrap with security headers, then logging, then request id outermost
	handler := RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
	return handler
}
