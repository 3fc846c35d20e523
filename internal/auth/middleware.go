package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenLaserCore/internal/types"
	"github.com/gin-gonic/gin"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

const claimsKey = "claims"

// Middleware rejects requests without a valid bearer token. A nil verifier
// lets every request through.
func Middleware(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "Missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "Invalid authorization header format", nil))
			return
		}

		claims, err := v.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "Invalid or expired token", err.Error()))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware, if any.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
