package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/middleware"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// currentUser writes a 401 and returns false when no identity was resolved.
func currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return nil, false
	}
	return user, true
}
