package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
)

// Audit actions recorded by the account flows.
const (
	ActionLogin           = "auth.login"
	ActionAdminLogin      = "auth.admin_login"
	ActionLogout          = "auth.logout"
	ActionRegister        = "account.register"
	ActionForgotPassword  = "account.forgot_password"
	ActionResetPassword   = "account.reset_password"
	ActionPasswordRequest = "account.password_change_request"
	ActionEmailRequest    = "account.email_change_request"
	ActionEmailChange     = "account.email_change"
	ActionTwoFactor       = "account.two_factor"
	ActionAuthorization   = "account.authorization_request"
	ActionResend          = "otp.resend"
	ActionVerify          = "otp.verify"
)

var (
	// ErrSameEmail is returned when an email change targets the current address.
	ErrSameEmail = apperrors.NewBadRequest("The new email matches the current email")
	// ErrPurposeNotAllowed is returned when a purpose cannot be used on the requested route.
	ErrPurposeNotAllowed = apperrors.NewValidation("Verification type is not allowed here")
)

// RequestMeta carries client details recorded with every operation.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterInput captures the fields accepted at sign-up.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	OtherName string
	PhoneNo   string
	Method    string
}

// ResendInput selects which outstanding code to send again.
type ResendInput struct {
	Email   string
	Purpose models.OTPPurpose
	Method  string
}

// AccountDeps wires the collaborators of the AccountService.
type AccountDeps struct {
	Directory     *directory.Directory
	Tokens        *auth.TokenManager
	Authenticator *auth.Authenticator
	Issuer        *otp.Issuer
	Verifier      *otp.Verifier
	Throttle      *otp.Throttle
	Audit         *AuditService
}

// AccountService orchestrates the account flows built on one-time codes.
type AccountService struct {
	db       *gorm.DB
	users    *directory.Directory
	tokens   *auth.TokenManager
	authn    *auth.Authenticator
	issuer   *otp.Issuer
	verifier *otp.Verifier
	codes    *otp.Store
	throttle *otp.Throttle
	audit    *AuditService
	log      *zap.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB, deps AccountDeps) (*AccountService, error) {
	switch {
	case db == nil:
		return nil, errors.New("account service: db is required")
	case deps.Directory == nil:
		return nil, errors.New("account service: directory is required")
	case deps.Tokens == nil:
		return nil, errors.New("account service: token manager is required")
	case deps.Authenticator == nil:
		return nil, errors.New("account service: authenticator is required")
	case deps.Issuer == nil:
		return nil, errors.New("account service: issuer is required")
	case deps.Verifier == nil:
		return nil, errors.New("account service: verifier is required")
	}

	return &AccountService{
		db:       db,
		users:    deps.Directory,
		tokens:   deps.Tokens,
		authn:    deps.Authenticator,
		issuer:   deps.Issuer,
		verifier: deps.Verifier,
		codes:    otp.NewStore(db),
		throttle: deps.Throttle,
		audit:    deps.Audit,
		log:      logger.WithModule("account"),
	}, nil
}

// Login authenticates an identity; AdminLogin additionally requires a privileged role.
func (s *AccountService) Login(ctx context.Context, input auth.LoginInput, admin bool) (*auth.LoginOutcome, error) {
	ctx = ensureContext(ctx)

	action := ActionLogin
	login := s.authn.Login
	if admin {
		action = ActionAdminLogin
		login = s.authn.AdminLogin
	}

	outcome, err := login(ctx, input)

	entry := AuditEntry{
		Address:   input.Email,
		Action:    action,
		Result:    auditResult(err),
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	}
	if outcome != nil && outcome.User != nil {
		entry.UserID = stringPtr(outcome.User.ID)
	}
	if outcome != nil && outcome.SecondFactorRequired {
		entry.Metadata = map[string]any{"second_factor_required": true}
	}
	recordAudit(s.audit, ctx, entry)

	return outcome, err
}

// Logout revokes the presented token.
func (s *AccountService) Logout(ctx context.Context, user *models.User, token string, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	err := s.authn.Logout(ctx, token)
	recordAudit(s.audit, ctx, s.entryFor(user, ActionLogout, err, meta))
	return err
}

// Profile returns the identity with its roles and permissions.
func (s *AccountService) Profile(ctx context.Context, userID string) (*models.User, directory.Access, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, directory.Access{}, appError(s.log, "profile", err)
	}
	access, err := s.users.AccessFor(ctx, userID)
	if err != nil {
		return nil, directory.Access{}, appError(s.log, "profile", err)
	}
	return user, access, nil
}

// Register creates an identity with the USER role and sends an email
// verification code to it.
func (s *AccountService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (*models.User, error) {
	ctx = ensureContext(ctx)

	method, err := s.issuer.ResolveMethod(input.Method)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, directory.NewUser{
		Username:  input.Username,
		Email:     input.Email,
		Password:  input.Password,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		OtherName: input.OtherName,
		PhoneNo:   input.PhoneNo,
	})
	if err != nil {
		recordAudit(s.audit, ctx, AuditEntry{
			Address:   input.Email,
			Action:    ActionRegister,
			Result:    AuditFailure,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
		return nil, appError(s.log, "register", err)
	}

	err = s.issuer.IssueCode(ctx, user.Email, models.PurposeVerifyEmail, method)
	recordAudit(s.audit, ctx, s.entryFor(user, ActionRegister, err, meta))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ForgotPassword sends a password reset code to a known address.
func (s *AccountService) ForgotPassword(ctx context.Context, email, method string, meta RequestMeta) error {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return appError(s.log, "forgot password", err)
	}

	err = s.issuer.IssueCode(ctx, user.Email, models.PurposeResetPassword, method)
	recordAudit(s.audit, ctx, s.entryFor(user, ActionForgotPassword, err, meta))
	return err
}

// ResetPassword replaces the password of an identity holding a verified reset
// sentinel. The sentinel is consumed and every token revoked in the same transaction.
func (s *AccountService) ResetPassword(ctx context.Context, email, password string, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	address := otp.NormalizeAddress(email)

	var user *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.verifier.ConsumeSentinel(ctx, tx, address, models.PurposeResetPassword); err != nil {
			return err
		}

		users := s.users.WithTx(tx)
		var err error
		user, err = users.FindByEmail(ctx, address)
		if errors.Is(err, directory.ErrUserNotFound) {
			return apperrors.ErrInvalidOrExpiredCode
		}
		if err != nil {
			return err
		}
		if err := users.UpdatePassword(ctx, user.ID, password); err != nil {
			return err
		}
		_, err = s.tokens.WithTx(tx).RevokeAll(ctx, user.ID)
		return err
	})

	entry := s.entryFor(user, ActionResetPassword, err, meta)
	entry.Address = address
	recordAudit(s.audit, ctx, entry)

	return appError(s.log, "reset password", err)
}

// RequestPasswordChange sends a password reset code to the identity's own address.
func (s *AccountService) RequestPasswordChange(ctx context.Context, user *models.User, method string, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	err := s.issuer.IssueCode(ctx, user.Email, models.PurposeResetPassword, method)
	recordAudit(s.audit, ctx, s.entryFor(user, ActionPasswordRequest, err, meta))
	return err
}

// RequestAuthorization sends an authorization code to the identity's own address.
func (s *AccountService) RequestAuthorization(ctx context.Context, user *models.User, method string, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	err := s.issuer.IssueCode(ctx, user.Email, models.PurposeAuthorizationTwoFA, method)
	recordAudit(s.audit, ctx, s.entryFor(user, ActionAuthorization, err, meta))
	return err
}

// RequestEmailChange sends an email change code to the new address, which
// must not belong to any identity.
func (s *AccountService) RequestEmailChange(ctx context.Context, user *models.User, newEmail, method string, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	address := otp.NormalizeAddress(newEmail)

	err := s.requestEmailChange(ctx, user, address, method)
	entry := s.entryFor(user, ActionEmailRequest, err, meta)
	entry.Metadata = map[string]any{"new_email": address}
	recordAudit(s.audit, ctx, entry)
	return err
}

func (s *AccountService) requestEmailChange(ctx context.Context, user *models.User, address, method string) error {
	if address == otp.NormalizeAddress(user.Email) {
		return ErrSameEmail
	}
	taken, err := s.users.EmailTaken(ctx, address)
	if err != nil {
		return appError(s.log, "email change request", err)
	}
	if taken {
		return directory.ErrEmailTaken
	}
	_, err = s.issuer.Issue(ctx, otp.IssueRequest{
		Address: address,
		Owner:   user.Email,
		Purpose: models.PurposeResetEmail,
		Method:  method,
	})
	return err
}

// VerifyEmailChange accepts an email change code and moves the identity to the new address.
func (s *AccountService) VerifyEmailChange(ctx context.Context, user *models.User, email, code string, meta RequestMeta) error {
	ctx = ensureContext(ctx)

	_, err := s.verifier.Verify(ctx, otp.VerifyInput{
		Address:   email,
		Purpose:   models.PurposeResetEmail,
		Code:      code,
		SubjectID: user.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	entry := s.entryFor(user, ActionEmailChange, err, meta)
	entry.Metadata = map[string]any{"new_email": otp.NormalizeAddress(email)}
	recordAudit(s.audit, ctx, entry)
	return err
}

// SetTwoFactor toggles the second factor for the identity.
func (s *AccountService) SetTwoFactor(ctx context.Context, user *models.User, enabled bool, meta RequestMeta) error {
	ctx = ensureContext(ctx)

	err := s.users.SetTwoFactor(ctx, user.ID, enabled)
	entry := s.entryFor(user, ActionTwoFactor, err, meta)
	entry.Metadata = map[string]any{"enabled": enabled}
	recordAudit(s.audit, ctx, entry)
	return appError(s.log, "set two factor", err)
}

// ResendCode issues a fresh code for purpose. Email change codes are only
// re-sent while one is outstanding; every other purpose requires a known identity.
func (s *AccountService) ResendCode(ctx context.Context, input ResendInput, meta RequestMeta) error {
	ctx = ensureContext(ctx)
	address := otp.NormalizeAddress(input.Email)

	err := s.resend(ctx, address, input)
	recordAudit(s.audit, ctx, AuditEntry{
		Address:   address,
		Action:    ActionResend,
		Result:    auditResult(err),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"type": string(input.Purpose)},
	})
	return err
}

func (s *AccountService) resend(ctx context.Context, address string, input ResendInput) error {
	if _, ok := otp.ParsePurpose(string(input.Purpose)); !ok {
		return apperrors.NewValidation("Unsupported verification type")
	}
	if _, err := s.issuer.ResolveMethod(input.Method); err != nil {
		return err
	}

	if input.Purpose == models.PurposeResetEmail {
		_, err := s.codes.Find(ctx, address, input.Purpose)
		if errors.Is(err, otp.ErrRecordNotFound) {
			return apperrors.ErrNotFound.WithMessage("No pending verification for this email")
		}
		if err != nil {
			return appError(s.log, "resend", err)
		}
	} else if _, err := s.users.FindByEmail(ctx, address); err != nil {
		return appError(s.log, "resend", err)
	}

	if err := s.throttle.Allow(ctx, address, input.Purpose); err != nil {
		return appError(s.log, "resend", err)
	}
	return s.issuer.IssueCode(ctx, address, input.Purpose, input.Method)
}

// VerifyCode accepts a code submitted on the public verification route. Email
// change codes are bound to an authenticated identity and rejected here.
func (s *AccountService) VerifyCode(ctx context.Context, email string, purpose models.OTPPurpose, code string, meta RequestMeta) (*otp.Outcome, error) {
	ctx = ensureContext(ctx)

	if purpose == models.PurposeResetEmail {
		return nil, ErrPurposeNotAllowed
	}

	outcome, err := s.verifier.Verify(ctx, otp.VerifyInput{
		Address:   email,
		Purpose:   purpose,
		Code:      code,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	entry := AuditEntry{
		Address:   email,
		Action:    ActionVerify,
		Result:    auditResult(err),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"type": string(purpose)},
	}
	if outcome != nil && outcome.User != nil {
		entry.UserID = stringPtr(outcome.User.ID)
	}
	recordAudit(s.audit, ctx, entry)

	return outcome, err
}

// HasAuthorization reports whether the identity holds a live authorization sentinel.
func (s *AccountService) HasAuthorization(ctx context.Context, user *models.User) (bool, error) {
	ok, err := s.verifier.HasSentinel(ensureContext(ctx), user.Email, models.PurposeAuthorizationTwoFA)
	if err != nil {
		return false, appError(s.log, "authorization check", err)
	}
	return ok, nil
}

func (s *AccountService) entryFor(user *models.User, action string, err error, meta RequestMeta) AuditEntry {
	entry := AuditEntry{
		Action:    action,
		Result:    auditResult(err),
		IPAddress: strings.TrimSpace(meta.IPAddress),
		UserAgent: strings.TrimSpace(meta.UserAgent),
	}
	if user != nil {
		entry.UserID = stringPtr(user.ID)
		entry.Address = user.Email
	}
	return entry
}
