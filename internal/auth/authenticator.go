package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/crypto"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
	"github.com/charlesng35/passgate/pkg/metrics"
)

// CodeIssuer sends a one-time code for purpose to address.
type CodeIssuer interface {
	IssueCode(ctx context.Context, address string, purpose models.OTPPurpose, method string) error
}

// LoginInput contains the credentials and client metadata of a sign-in attempt.
type LoginInput struct {
	Email     string
	Password  string
	Method    string
	IPAddress string
	UserAgent string
}

// LoginOutcome is the result of a successful credential check. Either a token
// is present or SecondFactorRequired is set and only Email is populated.
type LoginOutcome struct {
	Email                string
	SecondFactorRequired bool

	User   *models.User
	Access directory.Access
	Token  string
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// Authenticator verifies credentials and starts sessions.
type Authenticator struct {
	db     *gorm.DB
	users  *directory.Directory
	tokens *TokenManager
	codes  CodeIssuer
	now    func() time.Time
	log    *zap.Logger
}

// NewAuthenticator wires the credential authenticator.
func NewAuthenticator(db *gorm.DB, users *directory.Directory, tokens *TokenManager, codes CodeIssuer) (*Authenticator, error) {
	switch {
	case db == nil:
		return nil, errors.New("authenticator: db is required")
	case users == nil:
		return nil, errors.New("authenticator: directory is required")
	case tokens == nil:
		return nil, errors.New("authenticator: token manager is required")
	case codes == nil:
		return nil, errors.New("authenticator: code issuer is required")
	}

	return &Authenticator{
		db:     db,
		users:  users,
		tokens: tokens,
		codes:  codes,
		now:    time.Now,
		log:    logger.WithModule("auth"),
	}, nil
}

// Login authenticates any active identity.
func (a *Authenticator) Login(ctx context.Context, input LoginInput) (*LoginOutcome, error) {
	return a.login(ctx, "login", input, false)
}

// AdminLogin authenticates identities holding a privileged role.
func (a *Authenticator) AdminLogin(ctx context.Context, input LoginInput) (*LoginOutcome, error) {
	return a.login(ctx, "admin_login", input, true)
}

// Logout revokes the presented token.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if err := a.tokens.RevokeCurrent(ctx, token); err != nil {
		return a.fail("logout", err)
	}
	return nil
}

func (a *Authenticator) login(ctx context.Context, flow string, input LoginInput, privileged bool) (*LoginOutcome, error) {
	user, err := a.checkCredentials(ctx, input.Email, input.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(flow, "failure").Inc()
		return nil, a.fail(flow, err)
	}

	access, err := a.users.AccessFor(ctx, user.ID)
	if err != nil {
		return nil, a.fail(flow, err)
	}
	if privileged && !access.Privileged() {
		metrics.AuthAttempts.WithLabelValues(flow, "forbidden").Inc()
		return nil, apperrors.ErrForbidden.WithMessage("Administrator access required")
	}

	if user.TwoFactorEnabled {
		if err := a.codes.IssueCode(ctx, user.Email, models.PurposeAuthenticationTwoFA, input.Method); err != nil {
			return nil, a.fail(flow, err)
		}
		metrics.AuthAttempts.WithLabelValues(flow, "challenge").Inc()
		return &LoginOutcome{Email: user.Email, SecondFactorRequired: true}, nil
	}

	var issued *IssuedToken
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = a.tokens.WithTx(tx).Issue(ctx, user.ID, TokenMetadata{
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
		})
		if err != nil {
			return err
		}
		return a.users.WithTx(tx).RecordLogin(ctx, user.ID, input.IPAddress, a.now())
	})
	if err != nil {
		return nil, a.fail(flow, err)
	}

	metrics.AuthAttempts.WithLabelValues(flow, "success").Inc()
	return &LoginOutcome{
		Email:  user.Email,
		User:   user,
		Access: access,
		Token:  issued.Token,
	}, nil
}

// checkCredentials runs exactly one bcrypt comparison whether or not the
// identity exists.
func (a *Authenticator) checkCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := a.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
		return nil, err
	}

	if user == nil {
		crypto.VerifyPassword(fallbackHash(), password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(user.Password, password) || !user.IsActive {
		return nil, apperrors.ErrInvalidCredentials
	}
	return user, nil
}

func (a *Authenticator) fail(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	a.log.Error("authentication failed", zap.String("op", op), zap.Error(err))
	return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("%s: %w", op, err))
}

func fallbackHash() string {
	dummyHashOnce.Do(func() {
		hash, err := crypto.HashPassword(strings.Repeat("x", 16))
		if err == nil {
			dummyHash = hash
		}
	})
	return dummyHash
}
