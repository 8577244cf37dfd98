package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

type staticAuthenticator map[string]string

func (s staticAuthenticator) Authenticate(_ context.Context, token string) (*auth.OperatorClaims, error) {
	email, ok := s[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &auth.OperatorClaims{Email: email}, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(staticAuthenticator{"good": "ops@example.com"}))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("operator")+"|"+c.GetString("token"))
	})

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, serve("").Code)
	assert.Equal(t, http.StatusUnauthorized, serve("Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer bad").Code)

	w := serve("Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@example.com|good", w.Body.String())
}
