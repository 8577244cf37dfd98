package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrCredentialExpired   = errors.New("credential expired")
)

// sessionNamespace scopes session keys derived from credentials.
var sessionNamespace = uuid.MustParse("6f1c3a52-9d0e-5b7a-8c4e-2a1b7f3d9e60")

// Credential is the bearer token issued by the tracking backend at login,
// together with the identity it names. The backend holds the signing key, so
// the agent reads the claims without verifying the signature.
type Credential struct {
	Token     string
	Account   string
	ExpiresAt time.Time
}

// ParseCredential extracts the account identifier and expiry from token.
func ParseCredential(token string) (Credential, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Credential{}, ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	account, _ := claims["email"].(string)
	if account == "" {
		account, _ = claims["sub"].(string)
	}
	if account == "" {
		return Credential{}, fmt.Errorf("%w: no account claim", ErrMalformedCredential)
	}

	cred := Credential{Token: token, Account: account}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cred.ExpiresAt = exp.Time
	}
	return cred, nil
}

// Expired reports whether the credential's exp claim lies before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// SessionKey derives a stable identifier for the login session, used to key
// journal rows and archived reports.
func (c Credential) SessionKey() uuid.UUID {
	return uuid.NewSHA1(sessionNamespace, []byte(c.Token))
}
