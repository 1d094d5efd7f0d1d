package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/middleware"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/response"
)

// AuthHandler serves the public sign-in, sign-up and verification routes.
type AuthHandler struct {
	accounts *services.AccountService
}

func NewAuthHandler(accounts *services.AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Method   string `json:"method" validate:"omitempty,max=16"`
}

type signUpRequest struct {
	Username  string `json:"user_name" validate:"required,username"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	OtherName string `json:"other_name" validate:"omitempty,max=100"`
	PhoneNo   string `json:"phone_no" validate:"omitempty,e164"`
	Method    string `json:"method" validate:"omitempty,max=16"`
}

type forgotPasswordRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Method string `json:"method" validate:"omitempty,max=16"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type verifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp_code" validate:"required,len=6,numeric"`
	Type  string `json:"type" validate:"required"`
}

type resendCodeRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Type   string `json:"type" validate:"required"`
	Method string `json:"method" validate:"omitempty,max=16"`
}

type userPayload struct {
	*models.User
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type sessionPayload struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

func newUserPayload(user *models.User, access directory.Access) userPayload {
	roles := access.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := access.Permissions
	if perms == nil {
		perms = []string{}
	}
	return userPayload{User: user, Roles: roles, Permissions: perms}
}

// POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	h.signIn(c, false)
}

// POST /api/v1/auth/admin/sign-in
func (h *AuthHandler) AdminSignIn(c *gin.Context) {
	h.signIn(c, true)
}

func (h *AuthHandler) signIn(c *gin.Context, admin bool) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.accounts.Login(requestContext(c), iauth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		Method:    req.Method,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, admin)
	if err != nil {
		response.Error(c, err)
		return
	}

	if outcome.SecondFactorRequired {
		response.SuccessWithMessage(c, http.StatusOK, "Verification code sent", gin.H{
			"email":               outcome.Email,
			"two_factor_required": true,
		})
		return
	}

	response.Success(c, http.StatusOK, sessionPayload{
		Token: outcome.Token,
		User:  newUserPayload(outcome.User, outcome.Access),
	})
}

// POST /api/v1/auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.accounts.Register(requestContext(c), services.RegisterInput{
		Username:  strings.TrimSpace(req.Username),
		Email:     req.Email,
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		OtherName: strings.TrimSpace(req.OtherName),
		PhoneNo:   strings.TrimSpace(req.PhoneNo),
		Method:    req.Method,
	}, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusCreated, "Account created, verification code sent", gin.H{"email": user.Email})
}

// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ForgotPassword(requestContext(c), req.Email, req.Method, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Password reset code sent", gin.H{"email": otp.NormalizeAddress(req.Email)})
}

// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ResetPassword(requestContext(c), req.Email, req.Password, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Password updated", nil)
}

// POST /api/v1/auth/verify-otp
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	purpose, ok := otp.ParsePurpose(req.Type)
	if !ok {
		response.Error(c, errors.NewValidation("Unsupported verification type"))
		return
	}

	outcome, err := h.accounts.VerifyCode(requestContext(c), req.Email, purpose, req.Code, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	if outcome.Action == otp.ActionSignIn {
		response.Success(c, http.StatusOK, sessionPayload{
			Token: outcome.Token,
			User:  newUserPayload(outcome.User, outcome.Access),
		})
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Verification successful", gin.H{
		"email": outcome.Address,
		"type":  outcome.Purpose,
	})
}

// POST /api/v1/auth/resend-otp-verification
func (h *AuthHandler) ResendCode(c *gin.Context) {
	var req resendCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	purpose, ok := otp.ParsePurpose(req.Type)
	if !ok {
		response.Error(c, errors.NewValidation("Unsupported verification type"))
		return
	}

	err := h.accounts.ResendCode(requestContext(c), services.ResendInput{
		Email:   req.Email,
		Purpose: purpose,
		Method:  req.Method,
	}, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Verification code sent", gin.H{"email": otp.NormalizeAddress(req.Email)})
}

// POST /api/v1/auth/sign-out
func (h *AuthHandler) SignOut(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.accounts.Logout(requestContext(c), user, c.GetString(middleware.CtxTokenKey), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Signed out", nil)
}

// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	profile, access, err := h.accounts.Profile(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, newUserPayload(profile, access))
}
