package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxPlatformClaims = "protrace_platform_claims"

// RequirePlatformToken returns a Gin middleware that enforces a valid Bearer
// platform token carrying scope. An empty scope accepts any valid token.
//
// On success it injects the *PlatformClaims into the context under the
// "protrace_platform_claims" key.
func RequirePlatformToken(tokens *PlatformTokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		if scope != "" && !HasScope(claims, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}

		c.Set(ctxPlatformClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequirePlatformToken.
// Returns nil if no token was verified for the request.
func ClaimsFromCtx(c *gin.Context) *PlatformClaims {
	v, _ := c.Get(ctxPlatformClaims)
	claims, _ := v.(*PlatformClaims)
	return claims
}

// PlatformFromCtx returns the authenticated platform ID, or "" when the
// request carried no verified token.
func PlatformFromCtx(c *gin.Context) string {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.PlatformID
	}
	return ""
}
