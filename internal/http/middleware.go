package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"flockvet/internal/auth"
)

const claimsKey = "claims"

// RequireRole checks the bearer token and lets the request through only if
// its role is one of roles.
func RequireRole(tokens *auth.TokenService, roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if tokens == nil || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "description": "unauthorized"})
			return
		}
		claims, err := tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "description": "unauthorized"})
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Set(claimsKey, claims)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "description": string(claims.Role) + " access denied"})
	}
}

// currentClaims returns the claims set by RequireRole.
func currentClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
