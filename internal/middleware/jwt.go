package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/response"
)

// ContextUserIDKey is the gin context key storing the caller's user id.
const ContextUserIDKey = "userID"

// UserIDHeader carries the caller identity when token checks are disabled.
const UserIDHeader = "X-User-ID"

// IdentityClaims are the token claims read by Identity.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity resolves the caller's user id. With a secret it requires an HS256
// bearer token carrying a user_id claim; with an empty secret the X-User-ID
// header is trusted.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
			if userID == "" {
				abortUnauthorized(c, "missing "+UserIDHeader+" header")
				return
			}
			c.Set(ContextUserIDKey, userID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization header")
			return
		}

		claims, err := ParseIdentityToken(secret, parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

// ParseIdentityToken validates tokenString and returns its claims.
func ParseIdentityToken(secret, tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// UserID returns the identity stored by Identity.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}

func abortUnauthorized(c *gin.Context, message string) {
	response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, message))
	c.Abort()
}
