package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/response"
)

// AuthorizationChecker reports whether an identity holds a live second factor authorization.
type AuthorizationChecker interface {
	HasAuthorization(ctx context.Context, user *models.User) (bool, error)
}

// RequireAuthorization guards sensitive account operations. Identities with
// two-factor enabled must have verified an authorization code within its grace window.
func RequireAuthorization(checker AuthorizationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !user.TwoFactorEnabled {
			c.Next()
			return
		}

		allowed, err := checker.HasAuthorization(c.Request.Context(), user)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !allowed {
			response.Error(c, errors.ErrAuthorizationRequired)
			c.Abort()
			return
		}
		c.Next()
	}
}

// AccessResolver lists the roles and permissions of an identity.
type AccessResolver interface {
	AccessFor(ctx context.Context, userID string) (directory.Access, error)
}

// RequirePrivileged rejects identities that hold neither OWNER nor ADMIN.
func RequirePrivileged(resolver AccessResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		access, err := resolver.AccessFor(c.Request.Context(), user.ID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !access.Privileged() {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
