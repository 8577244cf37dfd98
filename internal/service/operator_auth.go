package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

// ErrInvalidLogin is returned for a wrong operator email or password.
var ErrInvalidLogin = errors.New("invalid email or password")

// OperatorAuth handles the dashboard operator login.
type OperatorAuth struct {
	email        string
	passwordHash []byte
	jwtManager   *auth.JWTManager
	revocations  auth.RevocationList
}

func NewOperatorAuth(email, passwordHash string, jwtManager *auth.JWTManager, revocations auth.RevocationList) *OperatorAuth {
	return &OperatorAuth{
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: []byte(passwordHash),
		jwtManager:   jwtManager,
		revocations:  revocations,
	}
}

// Login checks the credentials and issues an operator token
func (a *OperatorAuth) Login(req model.LoginRequest) (*model.LoginResponse, error) {
	if len(a.passwordHash) == 0 || strings.ToLower(strings.TrimSpace(req.Email)) != a.email {
		return nil, ErrInvalidLogin
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)); err != nil {
		return nil, ErrInvalidLogin
	}

	token, err := a.jwtManager.GenerateToken(a.email)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{
		Token:     token,
		ExpiresIn: int64(a.jwtManager.Expiry().Seconds()),
	}, nil
}

// Logout revokes the token until it would have expired anyway
func (a *OperatorAuth) Logout(ctx context.Context, tokenString string) error {
	claims, err := a.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return err
	}

	expiresIn := time.Until(claims.ExpiresAt.Time)
	if expiresIn <= 0 {
		return nil
	}
	return a.revocations.Revoke(ctx, tokenString, expiresIn)
}

// Authenticate validates a bearer token that has not been revoked.
func (a *OperatorAuth) Authenticate(ctx context.Context, tokenString string) (*auth.OperatorClaims, error) {
	revoked, err := a.revocations.IsRevoked(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errTokenRevoked
	}
	return a.jwtManager.ValidateToken(tokenString)
}

var errTokenRevoked = errors.New("token has been revoked")

// IsRevoked reports whether err came from a revoked token.
func IsRevoked(err error) bool { return errors.Is(err, errTokenRevoked) }
