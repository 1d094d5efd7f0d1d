package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/handlers"
)

func registerAuthRoutes(public, protected *gin.RouterGroup, h *handlers.AuthHandler) {
	auth := public.Group("/auth")
	{
		auth.POST("/sign-in", h.SignIn)
		auth.POST("/admin/sign-in", h.AdminSignIn)
		auth.POST("/sign-up", h.SignUp)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
		auth.POST("/verify-otp", h.VerifyCode)
		auth.POST("/resend-otp-verification", h.ResendCode)
	}

	protected.POST("/auth/sign-out", h.SignOut)
	protected.GET("/auth/me", h.Me)
}
