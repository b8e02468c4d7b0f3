package auth

import (
	"log/slog"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/platform/httpx"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// Middleware resolves the session into a CurrentUser for downstream
// handlers. Requests without a session user pass through as anonymous;
// the decision engine handles the anonymous path itself.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// LoadUser populates the request context with the authenticated caller,
// if any.
func (m Middleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		userID := sess.User()
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.Service.CurrentUser(r.Context(), userID)
		if err != nil {
			// A stale session (deleted or deactivated account) degrades to
			// anonymous rather than failing the request.
			if m.Logger != nil {
				m.Logger.Warn("session user unresolved", slog.String("user_id", userID), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := accesscontrol.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accesscontrol.UserFromContext(r.Context()) == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accesscontrol.UserFromContext(r.Context()).IsAdmin() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
