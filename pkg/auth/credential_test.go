package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBackendToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseCredential(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signBackendToken(t, jwt.MapClaims{"email": "alice@example.com", "exp": exp.Unix()})

	cred, err := ParseCredential("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", cred.Account)
	assert.Equal(t, tok, cred.Token)
	assert.True(t, cred.ExpiresAt.Equal(exp))
	assert.False(t, cred.Expired(time.Now()))
	assert.True(t, cred.Expired(exp.Add(time.Second)))
}

func TestParseCredentialErrors(t *testing.T) {
	_, err := ParseCredential("")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = ParseCredential("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	tok := signBackendToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	_, err = ParseCredential(tok)
	assert.ErrorIs(t, err, ErrMalformedCredential)
}

func TestSessionKeyIsStable(t *testing.T) {
	a := Credential{Token: "abc"}
	b := Credential{Token: "abc"}
	c := Credential{Token: "abd"}
	assert.Equal(t, a.SessionKey(), b.SessionKey())
	assert.NotEqual(t, a.SessionKey(), c.SessionKey())
}

func TestOperatorTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken("ops@example.com")
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	_, err = NewJWTManager("other", time.Hour).ValidateToken(tok)
	assert.Error(t, err)
}
