package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()
	service, _, _ := newTestService(t)
	return NewHandler(service), service
}

func postLogin(handler *Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/api/v1/auth/access-token", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.Login(w, r)
	return w
}

func TestLoginHandler_Success(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := postLogin(handler, `{"email":"member@example.com","password":"Correct-Horse-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotEmpty(t, response.AccessToken)
	require.Equal(t, "bearer", response.TokenType)
	require.Equal(t, int64(3600), response.ExpiresIn)
}

func TestLoginHandler_BadRequests(t *testing.T) {
	handler, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"email":`},
		{"unknown field", `{"email":"member@example.com","password":"x","extra":true}`},
		{"bad email", `{"email":"not-an-email","password":"x"}`},
		{"empty password", `{"email":"member@example.com","password":""}`},
		{"oversized password", `{"email":"member@example.com","password":"` + strings.Repeat("a", 201) + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, http.StatusBadRequest, postLogin(handler, tc.body).Code)
		})
	}
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := postLogin(handler, `{"email":"member@example.com","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginHandler_LockedAccountIs423(t *testing.T) {
	handler, _ := newTestHandler(t)

	for i := 0; i < 5; i++ {
		postLogin(handler, `{"email":"member@example.com","password":"wrong"}`)
	}

	w := postLogin(handler, `{"email":"member@example.com","password":"Correct-Horse-1"}`)
	require.Equal(t, http.StatusLocked, w.Code)
}

func TestLogoutHandler(t *testing.T) {
	handler, service := newTestHandler(t)

	response, err := service.Login(context.Background(), "member@example.com", "Correct-Horse-1")
	require.NoError(t, err)

	logout := func(authorization string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
		if authorization != "" {
			r.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		handler.Logout(w, r)
		return w
	}

	require.Equal(t, http.StatusUnauthorized, logout("").Code)
	require.Equal(t, http.StatusUnauthorized, logout("Bearer not-a-token").Code)

	require.Equal(t, http.StatusOK, logout("Bearer "+response.AccessToken).Code)
	// Idempotent replay.
	require.Equal(t, http.StatusOK, logout("Bearer "+response.AccessToken).Code)

	_, err = service.tokens.Validate(context.Background(), response.AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}
