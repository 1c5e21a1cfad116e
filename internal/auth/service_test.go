package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-api/internal/observability"
)

type fakePrincipals struct {
	accounts map[string]Account
	calls    int
}

func (f *fakePrincipals) FindPrincipal(_ context.Context, email string) (Account, error) {
	f.calls++
	account, ok := f.accounts[email]
	if !ok {
		return Account{}, ErrPrincipalNotFound
	}
	return account, nil
}

func newTestService(t *testing.T) (*Service, *fakePrincipals, *fakeRevocations) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-1"), bcrypt.MinCost)
	require.NoError(t, err)

	principals := &fakePrincipals{accounts: map[string]Account{
		"member@example.com": {
			Email:        "member@example.com",
			FullName:     "Member One",
			PasswordHash: string(hash),
			Roles:        []string{RoleMember},
		},
	}}

	revocations := newFakeRevocations()
	tokens := newTestTokenService(revocations)
	attempts := NewAttemptTracker(5, 15*time.Minute)

	service := NewService(principals, attempts, tokens, observability.NewLogger(), nil)
	return service, principals, revocations
}

func TestServiceLogin_Success(t *testing.T) {
	service, _, _ := newTestService(t)

	response, err := service.Login(context.Background(), "member@example.com", "Correct-Horse-1")
	require.NoError(t, err)
	require.NotEmpty(t, response.AccessToken)
	require.Equal(t, "bearer", response.TokenType)
	require.Equal(t, int64(3600), response.ExpiresIn)

	principal, err := service.tokens.Validate(context.Background(), response.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "member@example.com", principal.Email)
	require.Equal(t, []string{RoleMember}, principal.Roles)
}

func TestServiceLogin_NormalizesEmail(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), "  MEMBER@Example.COM ", "Correct-Horse-1")
	require.NoError(t, err)
}

func TestServiceLogin_WrongPassword(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), "member@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, 4, service.attempts.RemainingAttempts("member@example.com"))
}

func TestServiceLogin_UnknownEmailCountsFailure(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), "ghost@example.com", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, 4, service.attempts.RemainingAttempts("ghost@example.com"))
}

func TestServiceLogin_LockoutShortCircuitsCredentialCheck(t *testing.T) {
	service, principals, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		_, err := service.Login(context.Background(), "member@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	lookupsBefore := principals.calls

	// Even the correct password is refused while locked, and the store is
	// never consulted.
	_, err := service.Login(context.Background(), "member@example.com", "Correct-Horse-1")
	require.ErrorIs(t, err, ErrAccountLocked)
	require.Equal(t, lookupsBefore, principals.calls)
}

func TestServiceLogin_SuccessResetsCounter(t *testing.T) {
	service, _, _ := newTestService(t)

	for i := 0; i < 4; i++ {
		_, err := service.Login(context.Background(), "member@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.Login(context.Background(), "member@example.com", "Correct-Horse-1")
	require.NoError(t, err)
	require.Equal(t, 5, service.attempts.RemainingAttempts("member@example.com"))
}

func TestServiceLogin_EmptyInput(t *testing.T) {
	service, principals, _ := newTestService(t)

	_, err := service.Login(context.Background(), "", "password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = service.Login(context.Background(), "member@example.com", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Zero(t, principals.calls)
}

func TestServiceLogout_RevokesToken(t *testing.T) {
	service, _, revocations := newTestService(t)

	response, err := service.Login(context.Background(), "member@example.com", "Correct-Horse-1")
	require.NoError(t, err)

	require.NoError(t, service.Logout(context.Background(), response.AccessToken))
	require.Len(t, revocations.records, 1)

	_, err = service.tokens.Validate(context.Background(), response.AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	// Replaying the logout stays successful.
	require.NoError(t, service.Logout(context.Background(), response.AccessToken))
}

func TestServiceLogout_RejectsGarbage(t *testing.T) {
	service, _, _ := newTestService(t)

	err := service.Logout(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrMalformedToken)
}
