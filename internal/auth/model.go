package auth

import "time"

// Principal is the authenticated identity attached to the request context
// after token validation.
type Principal struct {
	Email string
	Roles []string
}

// Account is what the principal store hands back during login.
type Account struct {
	Email        string
	FullName     string
	PasswordHash string
	Roles        []string
}

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// RevocationRecord marks a single token as unusable until its natural expiry,
// after which the sweeper deletes it.
type RevocationRecord struct {
	TokenID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}
