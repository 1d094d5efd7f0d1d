// Package otp issues and verifies one-time codes for the account verification flows.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
	"github.com/charlesng35/passgate/pkg/metrics"
)

// ErrNoPhoneNumber is returned when SMS delivery is requested for an identity without a phone number.
var ErrNoPhoneNumber = apperrors.NewValidation("No phone number on file for SMS delivery")

// IssueRequest selects the address, purpose and delivery method of a new code.
// Owner names the identity the code is issued for when Address is not yet
// registered, as with an email change; it defaults to Address.
type IssueRequest struct {
	Address string
	Owner   string
	Purpose models.OTPPurpose
	Method  string
}

// IssuerConfig carries the collaborators of an Issuer.
type IssuerConfig struct {
	Policies *Policies
	Channels *dispatch.Registry
	Codes    CodeGenerator
	Clock    func() time.Time
}

// Issuer creates codes and hands them to a dispatch channel. A record only
// becomes visible once delivery succeeded.
type Issuer struct {
	db       *gorm.DB
	store    *Store
	policies *Policies
	channels *dispatch.Registry
	codes    CodeGenerator
	locks    keyLocks
	now      func() time.Time
	log      *zap.Logger
}

// NewIssuer constructs an Issuer.
func NewIssuer(db *gorm.DB, cfg IssuerConfig) (*Issuer, error) {
	if db == nil {
		return nil, errors.New("otp issuer: db is required")
	}
	if cfg.Channels == nil {
		return nil, errors.New("otp issuer: dispatch registry is required")
	}

	policies := cfg.Policies
	if policies == nil {
		policies = NewPolicies(DefaultPolicyConfig())
	}
	codes := cfg.Codes
	if codes == nil {
		codes = NewRandomGenerator(defaultDigits)
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Issuer{
		db:       db,
		store:    NewStore(db),
		policies: policies,
		channels: cfg.Channels,
		codes:    codes,
		now:      clock,
		log:      logger.WithModule("otp"),
	}, nil
}

// Issue replaces any code for (address, purpose) with a fresh one and delivers
// it. Delete, insert, dispatch and the pending to issued transition share one
// transaction, so a failed delivery leaves the previous state untouched.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*models.OneTimeCode, error) {
	policy, ok := i.policies.Lookup(req.Purpose)
	if !ok {
		return nil, apperrors.NewValidation(fmt.Sprintf("Unsupported verification type %q", req.Purpose))
	}
	address := NormalizeAddress(req.Address)
	if address == "" {
		return nil, apperrors.NewValidation("email is required")
	}

	channel, method, err := i.channels.Resolve(req.Method)
	if err != nil {
		metrics.CodesIssued.WithLabelValues(string(policy.Purpose), "unknown", "rejected").Inc()
		return nil, err
	}

	code, err := i.codes.Generate()
	if err != nil {
		return nil, i.fail(policy.Purpose, method, err)
	}

	msg, err := dispatch.Prepare(ctx, channel, dispatch.Message{
		Address:   address,
		Owner:     NormalizeAddress(req.Owner),
		Code:      code,
		Purpose:   policy.Purpose,
		ExpiresIn: policy.TTL,
	})
	if err != nil {
		return nil, i.fail(policy.Purpose, method, fmt.Errorf("prepare %s delivery: %w", method, err))
	}

	unlock := i.locks.lock(address + "|" + string(policy.Purpose))
	defer unlock()

	now := i.now()
	record := &models.OneTimeCode{
		Address:   address,
		Purpose:   policy.Purpose,
		Code:      code,
		State:     models.OTPStatePending,
		ExpiresAt: now.Add(policy.TTL),
	}

	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := i.store.WithTx(tx)
		if err := store.DeleteFor(ctx, address, policy.Purpose); err != nil {
			return fmt.Errorf("delete previous code: %w", err)
		}
		if err := store.Create(ctx, record); err != nil {
			return fmt.Errorf("create code: %w", err)
		}

		if err := channel.Send(ctx, msg); err != nil {
			return fmt.Errorf("send via %s: %w", method, err)
		}

		advanced, err := store.Advance(ctx, record, EventDispatched, nil)
		if err != nil {
			return fmt.Errorf("mark issued: %w", err)
		}
		if !advanced {
			return errors.New("mark issued: record changed concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, i.fail(policy.Purpose, method, err)
	}

	metrics.CodesIssued.WithLabelValues(string(policy.Purpose), method, "success").Inc()
	return record, nil
}

// ResolveMethod validates a delivery method and returns its canonical tag.
func (i *Issuer) ResolveMethod(method string) (string, error) {
	_, canonical, err := i.channels.Resolve(method)
	return canonical, err
}

// IssueCode issues a code and discards the record.
func (i *Issuer) IssueCode(ctx context.Context, address string, purpose models.OTPPurpose, method string) error {
	_, err := i.Issue(ctx, IssueRequest{Address: address, Purpose: purpose, Method: method})
	return err
}

func (i *Issuer) fail(purpose models.OTPPurpose, method string, err error) error {
	metrics.CodesIssued.WithLabelValues(string(purpose), method, "failure").Inc()
	if errors.Is(err, dispatch.ErrNoPhoneNumber) {
		return ErrNoPhoneNumber
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	i.log.Error("issue one-time code",
		zap.String("purpose", string(purpose)),
		zap.String("method", method),
		zap.Error(err),
	)
	return apperrors.ErrInternalServer.WithInternal(err)
}
