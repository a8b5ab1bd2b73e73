package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/internal/middleware"
	"github.com/semanticallynull/ridehail-backend/user"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError renders a domain error. Anything without a known kind is logged
// and reported as an opaque 500.
func writeError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).ErrorContext(c, msg, "error", err)
		c.JSON(status, gin.H{"code": "INTERNAL", "message": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"code": apperr.Code(err), "message": apperr.Message(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
}

// requireRole rejects callers whose token carries none of roles.
func requireRole(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			return
		}
		if !slices.Contains(roles, id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "ROLE_NOT_PERMITTED", "message": "Not allowed for role " + id.Role.String()})
			return
		}
		c.Next()
	}
}

// identity returns the caller, writing a 401 when there is none.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ID", "message": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
