package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "toolvet_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer token.
//
// On success it injects the *OperatorClaims into the context under the
// "toolvet_claims" key.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
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

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireScope returns a Gin middleware that enforces a valid Bearer token
// carrying the given scope. Mount it after, or instead of, RequireToken.
func RequireScope(tokens *TokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil {
			authHeader := c.GetHeader("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Bearer token required",
				})
				return
			}
			var err error
			claims, err = tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid token: " + err.Error(),
				})
				return
			}
			c.Set(ctxClaims, claims)
		}

		if !HasScope(claims, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "scope " + scope + " required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the operator claims injected by RequireToken or
// RequireScope. Returns nil if no valid token is present in the context.
func ClaimsFromCtx(c *gin.Context) *OperatorClaims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*OperatorClaims)
	return claims
}
