package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/response"
)

const (
	CtxUserKey    = "authUser"
	CtxUserIDKey  = "userID"
	CtxTokenKey   = "accessToken"
	CtxTokenIDKey = "accessTokenID"
)

// Auth resolves the opaque bearer token and loads the owning identity.
func Auth(tokens *iauth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		record, err := tokens.Resolve(c.Request.Context(), token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, err)
			c.Abort()
			return
		}
		if !record.User.IsActive {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxUserKey, record.User)
		c.Set(CtxUserIDKey, record.UserID)
		c.Set(CtxTokenKey, token)
		c.Set(CtxTokenIDKey, record.ID)

		c.Next()
	}
}

// CurrentUser returns the identity stored by Auth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}
