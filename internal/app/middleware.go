package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/mehaotian/hshs-server-sub001/internal/observability"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// IdentityHeader carries the authenticated user id, set by the upstream auth
// gateway. The service trusts this header; it must never be reachable without
// the gateway in front.
const IdentityHeader = "X-User-ID"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the default middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
		IdentityMiddleware(cfg.Logger),
	}

	if cfg.Config != nil && cfg.Config.APIRateLimit > 0 {
		stack = append(stack, httprate.LimitByIP(cfg.Config.APIRateLimit, cfg.Config.APIRateLimitWindow))
	}

	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.HTTPMiddleware)
	}

	return stack
}

// IdentityMiddleware resolves the caller identity from the gateway header and
// stores it in the request context. Requests without the header proceed
// anonymously; authorization middleware rejects them later.
func IdentityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdentityHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				if logger != nil {
					logger.Warn("invalid identity header", slog.String("value", raw))
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
