package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformedToken      = errors.New("malformed token")
	ErrBadSignature        = errors.New("invalid token signature")
	ErrTokenExpired        = errors.New("token expired")
	ErrWrongIssuerAudience = errors.New("wrong token issuer or audience")
	ErrTokenRevoked        = errors.New("token revoked")
)

// RevocationStore is the durable side-channel that makes logout effective
// before a token's natural expiry.
type RevocationStore interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Insert(ctx context.Context, record RevocationRecord) error
}

// TokenService issues and validates HS256-signed access tokens. Tokens are
// stateless and self-verifying; only revocation touches the store.
type TokenService struct {
	secret      []byte
	ttl         time.Duration
	issuer      string
	audience    string
	revocations RevocationStore
	now         func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, issuer, audience string, revocations RevocationStore) *TokenService {
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &TokenService{
		secret:      []byte(secret),
		ttl:         ttl,
		issuer:      issuer,
		audience:    audience,
		revocations: revocations,
		now:         time.Now,
	}
}

// ExpiresIn reports the configured token lifetime in whole seconds.
func (s *TokenService) ExpiresIn() int64 {
	return int64(s.ttl.Seconds())
}

func (s *TokenService) Issue(principal Principal) (string, error) {
	tokenID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub":   principal.Email,
		"jti":   tokenID.String(),
		"iss":   s.issuer,
		"aud":   s.audience,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
		"roles": principal.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return encoded, nil
}

// Validate checks signature, expiry, issuer/audience and revocation status.
// The signature is verified before any embedded claim is trusted, including
// the token id used for the revocation lookup. A revocation store failure
// fails the request rather than treating the token as non-revoked.
func (s *TokenService) Validate(ctx context.Context, raw string) (Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, classifyParseError(err)
	}

	tokenID, _ := claims["jti"].(string)
	if tokenID == "" {
		return Principal{}, ErrMalformedToken
	}

	revoked, err := s.revocations.IsRevoked(ctx, tokenID)
	if err != nil {
		return Principal{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, ErrMalformedToken
	}

	return Principal{Email: subject, Roles: rolesClaim(claims)}, nil
}

// Revoke inserts a revocation record keyed by the token's id, with the
// token's own expiry so the record can be swept once the token would have
// died anyway. The signature must verify (a forged token cannot be revoked),
// but an already-expired token is accepted: inserting a record for it is
// harmless and keeps logout idempotent.
func (s *TokenService) Revoke(ctx context.Context, raw string) (RevocationRecord, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, s.keyFunc); err != nil {
		return RevocationRecord{}, classifyParseError(err)
	}

	tokenID, _ := claims["jti"].(string)
	if tokenID == "" {
		return RevocationRecord{}, ErrMalformedToken
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return RevocationRecord{}, ErrMalformedToken
	}

	record := RevocationRecord{
		TokenID:   tokenID,
		ExpiresAt: expiry.Time.UTC(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.revocations.Insert(ctx, record); err != nil {
		return RevocationRecord{}, fmt.Errorf("insert revocation record: %w", err)
	}

	return record, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (any, error) {
	return s.secret, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrWrongIssuerAudience
	default:
		return ErrMalformedToken
	}
}

func rolesClaim(claims jwt.MapClaims) []string {
	values, _ := claims["roles"].([]any)
	roles := make([]string, 0, len(values))
	for _, value := range values {
		if role, ok := value.(string); ok {
			roles = append(roles, role)
		}
	}
	return roles
}
