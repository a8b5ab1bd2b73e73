package middleware

import (
	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/ridehail-backend/internal/auth"
)

const identityKey = "identity"

// GetIdentity extracts the caller from the claims the JWT middleware stored in
// the request context.
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	claims, exists := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !exists {
		GetLogger(c).Warn("no user claims found in context")
		return auth.Identity{}, false
	}

	id, err := auth.FromClaims(claims)
	if err != nil {
		GetLogger(c).Warn("unusable claims in context", "error", err)
		return auth.Identity{}, false
	}
	c.Set(identityKey, id.UserID.String())
	return id, true
}
