package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mehaotian/hshs-server-sub001/internal/platform/httpx"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers. Every denial is a
// uniform 403: the response never reveals whether the permission exists.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user holds at least one of the required
// permissions, directly or through a wildcard grant.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := m.currentUserID(r)
			if !ok {
				forbidden(w)
				return
			}
			results := m.Resolver.CheckPermissions(r.Context(), userID, normalized)
			for _, granted := range results {
				if granted {
					next.ServeHTTP(w, r)
					return
				}
			}
			forbidden(w)
		})
	}
}

// RequireAll ensures the current user holds all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := m.currentUserID(r)
			if !ok {
				forbidden(w)
				return
			}
			results := m.Resolver.CheckPermissions(r.Context(), userID, normalized)
			for _, granted := range results {
				if !granted {
					forbidden(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok || id.UserID <= 0 {
		if m.Logger != nil {
			m.Logger.Debug("request without identity", slog.String("path", r.URL.Path))
		}
		return 0, false
	}
	return id.UserID, true
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func forbidden(w http.ResponseWriter) {
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
}
