package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the Result of an authenticated request.
const ResultKey = "auth_result"

// GinAuth returns a Gin middleware function for authentication
func (a *Authenticator) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}
		res, err := a.Authenticate(c.Request)
		if err != nil {
			msg := "Invalid credentials"
			if errors.Is(err, ErrNoCredentials) {
				msg = "Authentication required"
				c.Header("WWW-Authenticate", `Basic realm="samgo"`)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": msg,
			})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}
