package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/crypto"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
	"github.com/charlesng35/passgate/pkg/metrics"
)

// VerifyInput is a submitted code. SubjectID names the authenticated identity
// and is only consulted by address change codes.
type VerifyInput struct {
	Address   string
	Purpose   models.OTPPurpose
	Code      string
	SubjectID string
	IPAddress string
	UserAgent string
}

// Outcome describes what an accepted code did. Sign-in outcomes carry the
// identity, its access and a freshly minted token; the others carry the address.
type Outcome struct {
	Purpose models.OTPPurpose
	Action  Action
	Address string

	User   *models.User
	Access directory.Access
	Token  string
}

// VerifierConfig carries the collaborators of a Verifier.
type VerifierConfig struct {
	Policies  *Policies
	Directory *directory.Directory
	Tokens    *auth.TokenManager
	Clock     func() time.Time
}

// Verifier accepts submitted codes and applies their purpose's action.
type Verifier struct {
	db       *gorm.DB
	store    *Store
	policies *Policies
	users    *directory.Directory
	tokens   *auth.TokenManager
	now      func() time.Time
	log      *zap.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(db *gorm.DB, cfg VerifierConfig) (*Verifier, error) {
	switch {
	case db == nil:
		return nil, errors.New("otp verifier: db is required")
	case cfg.Directory == nil:
		return nil, errors.New("otp verifier: directory is required")
	case cfg.Tokens == nil:
		return nil, errors.New("otp verifier: token manager is required")
	}

	policies := cfg.Policies
	if policies == nil {
		policies = NewPolicies(DefaultPolicyConfig())
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Verifier{
		db:       db,
		store:    NewStore(db),
		policies: policies,
		users:    cfg.Directory,
		tokens:   cfg.Tokens,
		now:      clock,
		log:      logger.WithModule("otp"),
	}, nil
}

// Verify checks a submitted code and, when it is accepted, runs the purpose's
// action in the same transaction. Rejections never mutate state.
func (v *Verifier) Verify(ctx context.Context, input VerifyInput) (*Outcome, error) {
	policy, ok := v.policies.Lookup(input.Purpose)
	if !ok {
		return nil, apperrors.NewValidation(fmt.Sprintf("Unsupported verification type %q", input.Purpose))
	}
	address := NormalizeAddress(input.Address)
	if policy.Action == ActionChangeAddress && strings.TrimSpace(input.SubjectID) == "" {
		return nil, apperrors.ErrUnauthorized
	}

	outcome := &Outcome{Purpose: policy.Purpose, Action: policy.Action, Address: address}
	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := v.now()
		store := v.store.WithTx(tx)

		record, err := store.Find(ctx, address, policy.Purpose)
		if errors.Is(err, ErrRecordNotFound) {
			return apperrors.ErrInvalidOrExpiredCode
		}
		if err != nil {
			return err
		}
		if !AcceptsCode(record.State) || !record.Live(now) ||
			!crypto.ConstantTimeEqual(record.Code, strings.TrimSpace(input.Code)) {
			return apperrors.ErrInvalidOrExpiredCode
		}

		switch policy.Action {
		case ActionRemember:
			return v.remember(ctx, store, record, now.Add(policy.Grace))
		case ActionChangeAddress:
			if err := v.consume(ctx, store, record); err != nil {
				return err
			}
			return v.changeAddress(ctx, tx, input.SubjectID, address, now)
		case ActionSignIn:
			if err := v.consume(ctx, store, record); err != nil {
				return err
			}
			return v.signIn(ctx, tx, outcome, input, now)
		default:
			return fmt.Errorf("unhandled action %s", policy.Action)
		}
	})
	if err != nil {
		return nil, v.fail(policy.Purpose, err)
	}

	metrics.CodeVerifications.WithLabelValues(string(policy.Purpose), "accepted").Inc()
	return outcome, nil
}

// ConsumeSentinel deletes the live sentinel left by a remembering purpose. It
// runs on tx so the follow-up step and the consumption commit together.
func (v *Verifier) ConsumeSentinel(ctx context.Context, tx *gorm.DB, address string, purpose models.OTPPurpose) error {
	if tx == nil {
		tx = v.db
	}
	store := v.store.WithTx(tx)

	record, err := v.liveSentinel(ctx, store, address, purpose)
	if err != nil {
		return err
	}
	return v.consume(ctx, store, record)
}

// HasSentinel reports whether a live sentinel exists without consuming it.
func (v *Verifier) HasSentinel(ctx context.Context, address string, purpose models.OTPPurpose) (bool, error) {
	_, err := v.liveSentinel(ctx, v.store, address, purpose)
	if errors.Is(err, apperrors.ErrInvalidOrExpiredCode) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (v *Verifier) liveSentinel(ctx context.Context, store *Store, address string, purpose models.OTPPurpose) (*models.OneTimeCode, error) {
	record, err := store.Find(ctx, NormalizeAddress(address), purpose)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidOrExpiredCode
	}
	if err != nil {
		return nil, fmt.Errorf("otp verifier: find sentinel: %w", err)
	}
	if record.State != models.OTPStateSentinel || !record.Live(v.now()) {
		return nil, apperrors.ErrInvalidOrExpiredCode
	}
	return record, nil
}

func (v *Verifier) remember(ctx context.Context, store *Store, record *models.OneTimeCode, until time.Time) error {
	advanced, err := store.Advance(ctx, record, EventRemembered, map[string]interface{}{
		"verified":   true,
		"code":       "",
		"expires_at": until,
	})
	if err != nil {
		return err
	}
	if !advanced {
		return apperrors.ErrInvalidOrExpiredCode
	}
	return nil
}

func (v *Verifier) consume(ctx context.Context, store *Store, record *models.OneTimeCode) error {
	advanced, err := store.Advance(ctx, record, EventConsumed, nil)
	if err != nil {
		return err
	}
	if !advanced {
		return apperrors.ErrInvalidOrExpiredCode
	}
	return nil
}

func (v *Verifier) changeAddress(ctx context.Context, tx *gorm.DB, subjectID, address string, now time.Time) error {
	err := v.users.WithTx(tx).UpdateEmail(ctx, subjectID, address, now)
	if errors.Is(err, directory.ErrUserNotFound) {
		return apperrors.ErrUnauthorized
	}
	return err
}

func (v *Verifier) signIn(ctx context.Context, tx *gorm.DB, outcome *Outcome, input VerifyInput, now time.Time) error {
	users := v.users.WithTx(tx)

	user, err := users.FindByEmail(ctx, outcome.Address)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return apperrors.ErrInvalidCredentials
	}

	if err := users.MarkEmailVerified(ctx, user.ID, now); err != nil {
		return err
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}

	issued, err := v.tokens.WithTx(tx).Issue(ctx, user.ID, auth.TokenMetadata{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return err
	}

	access, err := users.AccessFor(ctx, user.ID)
	if err != nil {
		return err
	}

	outcome.User = user
	outcome.Access = access
	outcome.Token = issued.Token
	return nil
}

func (v *Verifier) fail(purpose models.OTPPurpose, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		metrics.CodeVerifications.WithLabelValues(string(purpose), "rejected").Inc()
		return appErr
	}
	metrics.CodeVerifications.WithLabelValues(string(purpose), "error").Inc()
	v.log.Error("verify one-time code", zap.String("purpose", string(purpose)), zap.Error(err))
	return apperrors.ErrInternalServer.WithInternal(err)
}
