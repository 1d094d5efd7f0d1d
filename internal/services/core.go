package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
)

// CoreConfig selects the collaborators and lifetimes of the verification core.
type CoreConfig struct {
	Channels *dispatch.Registry
	Codes    otp.CodeGenerator
	Policies otp.PolicyConfig
	Tokens   auth.TokenConfig
	Throttle otp.ThrottleConfig
	Cache    cache.Store
	Clock    func() time.Time
}

// Core bundles the wired verification components.
type Core struct {
	Directory     *directory.Directory
	Tokens        *auth.TokenManager
	Authenticator *auth.Authenticator
	Issuer        *otp.Issuer
	Verifier      *otp.Verifier
	Audit         *AuditService
	Accounts      *AccountService
}

// NewCore wires the directory, token manager, issuer, verifier and account flows
// over a single database handle.
func NewCore(db *gorm.DB, cfg CoreConfig) (*Core, error) {
	if cfg.Channels == nil {
		return nil, errors.New("core: dispatch registry is required")
	}

	users, err := directory.New(db)
	if err != nil {
		return nil, err
	}

	tokenCfg := cfg.Tokens
	tokenCfg.Clock = cfg.Clock
	tokens, err := auth.NewTokenManager(db, tokenCfg)
	if err != nil {
		return nil, err
	}

	policies := otp.NewPolicies(cfg.Policies)
	issuer, err := otp.NewIssuer(db, otp.IssuerConfig{
		Policies: policies,
		Channels: cfg.Channels,
		Codes:    cfg.Codes,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	verifier, err := otp.NewVerifier(db, otp.VerifierConfig{
		Policies:  policies,
		Directory: users,
		Tokens:    tokens,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	authenticator, err := auth.NewAuthenticator(db, users, tokens, issuer)
	if err != nil {
		return nil, err
	}

	audit, err := NewAuditService(db)
	if err != nil {
		return nil, err
	}

	accounts, err := NewAccountService(db, AccountDeps{
		Directory:     users,
		Tokens:        tokens,
		Authenticator: authenticator,
		Issuer:        issuer,
		Verifier:      verifier,
		Throttle:      otp.NewThrottle(cfg.Cache, cfg.Throttle),
		Audit:         audit,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		Directory:     users,
		Tokens:        tokens,
		Authenticator: authenticator,
		Issuer:        issuer,
		Verifier:      verifier,
		Audit:         audit,
		Accounts:      accounts,
	}, nil
}
