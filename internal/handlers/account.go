package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/response"
)

// AccountHandler serves the authenticated account maintenance routes.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type updateEmailRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Method string `json:"method" validate:"omitempty,max=16"`
}

type verifyEmailChangeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp_code" validate:"required,len=6,numeric"`
	Type  string `json:"type" validate:"required,eq=RESET_EMAIL_OTP"`
}

type methodRequest struct {
	Method string `json:"method" validate:"omitempty,max=16"`
}

type twoFactorRequest struct {
	Status *bool `json:"status" validate:"required"`
}

// PATCH /api/v1/users/update-email
func (h *AccountHandler) UpdateEmail(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req updateEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RequestEmailChange(requestContext(c), user, req.Email, req.Method, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Verification code sent to the new email", gin.H{"email": otp.NormalizeAddress(req.Email)})
}

// POST /api/v1/users/verify-email-reset-otp
func (h *AccountHandler) VerifyEmailChange(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req verifyEmailChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.VerifyEmailChange(requestContext(c), user, req.Email, req.Code, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Email updated", gin.H{"email": otp.NormalizeAddress(req.Email)})
}

// POST /api/v1/users/update-password-request
func (h *AccountHandler) RequestPasswordChange(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	req, ok := optionalMethod(c)
	if !ok {
		return
	}

	if err := h.accounts.RequestPasswordChange(requestContext(c), user, req.Method, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Password reset code sent", gin.H{"email": user.Email})
}

// POST /api/v1/users/authorization-request
func (h *AccountHandler) RequestAuthorization(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	req, ok := optionalMethod(c)
	if !ok {
		return
	}

	if err := h.accounts.RequestAuthorization(requestContext(c), user, req.Method, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Authorization code sent", gin.H{"email": user.Email})
}

// PATCH /api/v1/users/update-2fa-status
func (h *AccountHandler) UpdateTwoFactor(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req twoFactorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.SetTwoFactor(requestContext(c), user, *req.Status, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Two-factor status updated", gin.H{"is_2fa_enabled": *req.Status})
}

// optionalMethod reads an optional {"method": ...} body; an empty body selects the default channel.
func optionalMethod(c *gin.Context) (methodRequest, bool) {
	var req methodRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if !bindAndValidate(c, &req) {
		return req, false
	}
	return req, true
}
