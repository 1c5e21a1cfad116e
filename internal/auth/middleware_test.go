package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-api/internal/observability"
)

func newTestGateway(store *fakeRevocations) (*Gateway, *TokenService) {
	tokens := newTestTokenService(store)
	limiter := NewRateLimiter(
		Policy{Capacity: 100, RefillInterval: time.Minute},
		Policy{Capacity: 100, RefillInterval: time.Minute},
		10000,
	)
	return NewGateway(limiter, tokens, observability.NewLogger(), nil), tokens
}

func okHandler(captured *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			if principal, ok := PrincipalFromContext(r.Context()); ok {
				*captured = principal
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate_ValidToken(t *testing.T) {
	gateway, tokens := newTestGateway(newFakeRevocations())

	token, err := tokens.Issue(Principal{Email: "member@example.com", Roles: []string{RoleMember}})
	require.NoError(t, err)

	var seen Principal
	handler := gateway.Authenticate(PermBooksRead, okHandler(&seen))

	r := httptest.NewRequest("GET", "/api/v1/books", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "member@example.com", seen.Email)
	require.Equal(t, []string{RoleMember}, seen.Roles)
}

func TestAuthenticate_MissingOrBrokenHeader(t *testing.T) {
	gateway, _ := newTestGateway(newFakeRevocations())
	handler := gateway.Authenticate(PermBooksRead, okHandler(nil))

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc", "token-without-scheme"} {
		r := httptest.NewRequest("GET", "/api/v1/books", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestAuthenticate_InvalidTokenIsOpaque401(t *testing.T) {
	gateway, tokens := newTestGateway(newFakeRevocations())
	handler := gateway.Authenticate(PermBooksRead, okHandler(nil))

	expired := newTestTokenService(newFakeRevocations())
	expired.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	expiredToken, err := expired.Issue(Principal{Email: "member@example.com"})
	require.NoError(t, err)

	revoked, err := tokens.Issue(Principal{Email: "member@example.com", Roles: []string{RoleMember}})
	require.NoError(t, err)
	_, err = tokens.Revoke(context.Background(), revoked)
	require.NoError(t, err)

	bodies := make(map[string]bool)
	for name, raw := range map[string]string{
		"garbage": "garbage",
		"expired": expiredToken,
		"revoked": revoked,
	} {
		r := httptest.NewRequest("GET", "/api/v1/books", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code, name)
		bodies[w.Body.String()] = true
	}
	// One indistinguishable response for every failure mode.
	require.Len(t, bodies, 1)
}

func TestAuthenticate_StoreFailureIs500(t *testing.T) {
	store := newFakeRevocations()
	gateway, tokens := newTestGateway(store)
	handler := gateway.Authenticate(PermBooksRead, okHandler(nil))

	token, err := tokens.Issue(Principal{Email: "member@example.com", Roles: []string{RoleMember}})
	require.NoError(t, err)

	store.failErr = context.DeadlineExceeded

	r := httptest.NewRequest("GET", "/api/v1/books", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthenticate_InsufficientPermission(t *testing.T) {
	gateway, tokens := newTestGateway(newFakeRevocations())
	handler := gateway.Authenticate(PermBooksCreate, okHandler(nil))

	token, err := tokens.Issue(Principal{Email: "member@example.com", Roles: []string{RoleMember}})
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/v1/books", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	tokens := newTestTokenService(newFakeRevocations())
	limiter := NewRateLimiter(
		Policy{Capacity: 2, RefillInterval: time.Minute},
		Policy{Capacity: 100, RefillInterval: time.Minute},
		10000,
	)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	gateway := NewGateway(limiter, tokens, observability.NewLogger(), nil)
	handler := gateway.RateLimit(okHandler(nil))

	send := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", path, nil)
		r.RemoteAddr = "10.0.0.1:4567"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, send("/api/v1/auth/access-token").Code)
	require.Equal(t, http.StatusOK, send("/api/v1/auth/access-token").Code)

	rejected := send("/api/v1/auth/access-token")
	require.Equal(t, http.StatusTooManyRequests, rejected.Code)
	require.Equal(t, "60", rejected.Header().Get("Retry-After"))

	// The general class for the same client is untouched.
	require.Equal(t, http.StatusOK, send("/api/v1/books").Code)
}

func TestRateLimit_SeparatesClients(t *testing.T) {
	tokens := newTestTokenService(newFakeRevocations())
	limiter := NewRateLimiter(
		Policy{Capacity: 1, RefillInterval: time.Minute},
		Policy{Capacity: 100, RefillInterval: time.Minute},
		10000,
	)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	gateway := NewGateway(limiter, tokens, observability.NewLogger(), nil)
	handler := gateway.RateLimit(okHandler(nil))

	send := func(forwardedFor string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/api/v1/auth/access-token", nil)
		r.RemoteAddr = "10.0.0.1:4567"
		r.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, send("203.0.113.7").Code)
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.7").Code)
	require.Equal(t, http.StatusOK, send("203.0.113.8").Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		token, ok := BearerToken(r)
		require.Equal(t, tc.ok, ok, "header %q", tc.header)
		require.Equal(t, tc.token, token, "header %q", tc.header)
	}
}
