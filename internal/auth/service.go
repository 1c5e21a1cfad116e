package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"library-api/internal/observability"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrPrincipalNotFound  = errors.New("principal not found")
)

// PrincipalStore maps a login identifier to its credential hash and role set.
// Implemented by the user repository.
type PrincipalStore interface {
	FindPrincipal(ctx context.Context, email string) (Account, error)
}

// Service orchestrates login and logout: attempt tracking around the
// credential check, token issuance on success, revocation on logout.
type Service struct {
	principals PrincipalStore
	attempts   *AttemptTracker
	tokens     *TokenService
	logger     *observability.Logger
	metrics    *observability.Metrics
}

func NewService(principals PrincipalStore, attempts *AttemptTracker, tokens *TokenService, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		principals: principals,
		attempts:   attempts,
		tokens:     tokens,
		logger:     logger,
		metrics:    metrics,
	}
}

// Login checks the lockout state before touching credentials, so a locked
// account answers the same regardless of the submitted password.
func (s *Service) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenResponse{}, ErrInvalidCredentials
	}

	if s.attempts.IsLocked(email) {
		s.metrics.AccountLockout()
		s.logger.Warn("login_locked", map[string]any{"email": email})
		return TokenResponse{}, ErrAccountLocked
	}

	account, err := s.principals.FindPrincipal(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return TokenResponse{}, s.credentialFailure(email)
		}
		return TokenResponse{}, fmt.Errorf("look up principal: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return TokenResponse{}, s.credentialFailure(email)
	}

	s.attempts.RecordSuccess(email)

	token, err := s.tokens.Issue(Principal{Email: account.Email, Roles: account.Roles})
	if err != nil {
		return TokenResponse{}, err
	}

	s.logger.Info("login_succeeded", map[string]any{"email": email})

	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   s.tokens.ExpiresIn(),
	}, nil
}

// Logout revokes the presented token. Revoking twice, or revoking a token at
// the edge of its lifetime, is harmless; the record dies with the token.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	record, err := s.tokens.Revoke(ctx, rawToken)
	if err != nil {
		return err
	}

	s.metrics.TokenRevoked()
	s.logger.Info("token_revoked", map[string]any{"token_id": record.TokenID})
	return nil
}

func (s *Service) credentialFailure(email string) error {
	count := s.attempts.RecordFailure(email)
	s.metrics.LoginFailure()
	s.logger.Warn("login_failed", map[string]any{
		"email":              email,
		"failed_attempts":    count,
		"remaining_attempts": s.attempts.RemainingAttempts(email),
	})
	return ErrInvalidCredentials
}
