package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

type actorKey struct{}

// ActorFromContext returns the authenticated principal recorded by the
// auth middleware, or "api" when none was recorded.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "api"
}

// authMiddleware validates Bearer token or Basic auth credentials using
// constant-time comparison and stamps the acting principal into the
// request context. Requests are counted against the api_request budget;
// failed attempts against the auth_failure budget.
func (g *Gateway) authMiddleware() func(http.Handler) http.Handler {
	cfg := g.config.Auth
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.limiter.Allow(security.KindAPIRequest); err != nil {
				g.emitAuditEvent(security.EventRateLimit, r, "api request budget exhausted")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				g.rejectAuth(w, r, "missing authorization header")
				return
			}

			// Try Bearer token first.
			if cfg.BearerToken != "" {
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
					if constantTimeEqual(after, cfg.BearerToken) {
						g.emitAuditEvent(security.EventAuthSuccess, r, "bearer")
						next.ServeHTTP(w, withActor(r, "api"))
						return
					}
				}
			}

			// Try Basic auth.
			if cfg.BasicUser != "" && cfg.BasicPass != "" {
				user, pass, ok := r.BasicAuth()
				if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
					g.emitAuditEvent(security.EventAuthSuccess, r, "basic")
					next.ServeHTTP(w, withActor(r, user))
					return
				}
			}

			g.rejectAuth(w, r, "invalid credentials")
		})
	}
}

func (g *Gateway) rejectAuth(w http.ResponseWriter, r *http.Request, detail string) {
	g.metrics.RecordAuthFailure()
	g.emitAuditEvent(security.EventAuthFailure, r, detail)
	if err := g.limiter.Allow(security.KindAuthFailure); errors.Is(err, security.ErrRateLimited) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func withActor(r *http.Request, actor string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorKey{}, actor))
}

// emitAuditEvent logs a gateway event to the audit logger if available.
func (g *Gateway) emitAuditEvent(eventType security.EventType, r *http.Request, detail string) {
	if g.audit == nil {
		return
	}
	g.audit.Log(security.AuditEvent{
		Type:   eventType,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
