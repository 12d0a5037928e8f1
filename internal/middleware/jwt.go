// Package middleware guards the room admin API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// RoleOperator is the only role allowed to use the room admin API.
	RoleOperator = "operator"

	// OperatorKey is the gin context key holding the authenticated operator.
	OperatorKey = "operator"
)

var (
	ErrMissingToken = errors.New("operator token required")
	ErrNotOperator  = errors.New("operator role required")
)

// OperatorClaims are carried by tokens minted out of band for operators. The
// subject names the operator in logs.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseOperatorToken verifies an HMAC-signed token and checks its role.
func ParseOperatorToken(raw, secret string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, errors.Wrap(err, "operator token")
	}
	if claims.Role != RoleOperator {
		return nil, ErrNotOperator
	}
	return claims, nil
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// RequireOperator rejects requests without a valid operator token. A bad or
// missing token is 401; a valid token for another role is 403.
func RequireOperator(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := ParseOperatorToken(raw, secret)
		switch {
		case errors.Is(err, ErrNotOperator):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid operator token"})
			return
		}

		c.Set(OperatorKey, claims.Subject)
		c.Next()
	}
}
