package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"library-api/internal/observability"
)

type contextKey int

const principalKey contextKey = 0

// PrincipalFromContext returns the validated principal attached by the
// authentication middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

// Gateway is the request-time front of the security core: rate-limit
// admission for every request, then token validation and the capability check
// for credentialed routes.
type Gateway struct {
	limiter *RateLimiter
	tokens  *TokenService
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewGateway(limiter *RateLimiter, tokens *TokenService, logger *observability.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		limiter: limiter,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
}

// RateLimit wraps the whole mux. Credential endpoints fall under the tight
// auth policy, everything else under the general one.
func (g *Gateway) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := PolicyGeneral
		if strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
			class = PolicyAuth
		}

		clientKey := ClientIP(r)
		if !g.limiter.TryConsume(clientKey, class) {
			retryAfter := int(g.limiter.RetryAfter(class).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			g.metrics.RateLimitRejected(string(class))
			g.logger.Warn("rate_limit_exceeded", map[string]any{
				"ip":    clientKey,
				"path":  r.URL.Path,
				"class": string(class),
			})

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Authenticate validates the bearer token, attaches the principal to the
// request context and enforces the route's required permission. Validation
// failures collapse to one opaque 401 so callers cannot probe which check
// failed.
func (g *Gateway) Authenticate(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		principal, err := g.tokens.Validate(r.Context(), raw)
		if err != nil {
			if isTokenError(err) {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			// Revocation store unavailable: fail closed.
			sentry.CaptureException(err)
			g.logger.Error("token_validation_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to validate token")
			return
		}

		if permission != "" && !HasPermission(principal.Roles, permission) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func isTokenError(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrWrongIssuerAudience) ||
		errors.Is(err, ErrTokenRevoked)
}
