package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/auth"
)

// identityKey is the gin context key holding the validated identity.
const identityKey = "syncline.identity"

// authenticate validates the bearer token and stores the identity in
// the request context. With no gateway configured, requests pass
// through unauthenticated.
func (a *API) authenticate(c *gin.Context) {
	if a.gateway == nil {
		c.Next()
		return
	}

	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	ident, err := a.gateway.Validate(c.Request.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if syncline.KindOf(err) == syncline.KindTokenRevoked {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Set(identityKey, ident)
	c.Next()
}

// requireScope rejects requests whose identity lacks the given scope.
// It sits behind authenticate; with no gateway it is a no-op.
func (a *API) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.gateway == nil {
			c.Next()
			return
		}
		ident := identityFrom(c)
		if ident == nil || !ident.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}
		c.Next()
	}
}

// identityFrom returns the authenticated identity, or nil if the
// request was not authenticated.
func identityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*auth.Identity)
	return ident
}
