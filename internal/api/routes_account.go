package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/handlers"
	"github.com/charlesng35/passgate/internal/middleware"
)

func registerAccountRoutes(protected *gin.RouterGroup, h *handlers.AccountHandler, checker middleware.AuthorizationChecker) {
	users := protected.Group("/users")
	{
		users.PATCH("/update-email", h.UpdateEmail)
		users.POST("/verify-email-reset-otp", h.VerifyEmailChange)
		users.POST("/update-password-request", h.RequestPasswordChange)
		users.POST("/authorization-request", h.RequestAuthorization)
		users.PATCH("/update-2fa-status", middleware.RequireAuthorization(checker), h.UpdateTwoFactor)
	}
}

func registerAdminRoutes(protected *gin.RouterGroup, h *handlers.AuditHandler, resolver *directory.Directory) {
	admin := protected.Group("/admin")
	admin.Use(middleware.RequirePrivileged(resolver))
	{
		admin.GET("/audit-logs", h.List)
	}
}
