package otp

import (
	"strings"
	"time"

	"github.com/charlesng35/passgate/internal/models"
)

// Action is what a successful verification does with the record.
type Action int

const (
	// ActionSignIn consumes the record, marks the address verified and mints a session token.
	ActionSignIn Action = iota + 1
	// ActionRemember keeps the record as a short lived sentinel for a follow-up step.
	ActionRemember
	// ActionChangeAddress consumes the record and moves the acting identity to the address.
	ActionChangeAddress
)

func (a Action) String() string {
	switch a {
	case ActionSignIn:
		return "sign_in"
	case ActionRemember:
		return "remember"
	case ActionChangeAddress:
		return "change_address"
	default:
		return "unknown"
	}
}

// Policy describes how codes for a purpose expire and what accepting them does.
type Policy struct {
	Purpose models.OTPPurpose
	TTL     time.Duration
	Grace   time.Duration
	Action  Action
}

// PolicyConfig carries the configurable lifetimes.
type PolicyConfig struct {
	TTL                time.Duration
	ResetGrace         time.Duration
	AuthorizationGrace time.Duration
}

// DefaultPolicyConfig returns the standard lifetimes: five minute codes, a ten
// minute password reset window and a thirty minute authorization window.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		TTL:                5 * time.Minute,
		ResetGrace:         10 * time.Minute,
		AuthorizationGrace: 30 * time.Minute,
	}
}

// Policies resolves purposes to their policy.
type Policies struct {
	byPurpose map[models.OTPPurpose]Policy
}

// NewPolicies builds the policy table for every supported purpose.
func NewPolicies(cfg PolicyConfig) *Policies {
	defaults := DefaultPolicyConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.ResetGrace <= 0 {
		cfg.ResetGrace = defaults.ResetGrace
	}
	if cfg.AuthorizationGrace <= 0 {
		cfg.AuthorizationGrace = defaults.AuthorizationGrace
	}

	table := map[models.OTPPurpose]Policy{
		models.PurposeVerifyEmail: {
			Action: ActionSignIn,
		},
		models.PurposeAuthenticationTwoFA: {
			Action: ActionSignIn,
		},
		models.PurposeResetPassword: {
			Action: ActionRemember,
			Grace:  cfg.ResetGrace,
		},
		models.PurposeAuthorizationTwoFA: {
			Action: ActionRemember,
			Grace:  cfg.AuthorizationGrace,
		},
		models.PurposeResetEmail: {
			Action: ActionChangeAddress,
		},
	}
	for purpose, policy := range table {
		policy.Purpose = purpose
		policy.TTL = cfg.TTL
		table[purpose] = policy
	}

	return &Policies{byPurpose: table}
}

// Lookup returns the policy for purpose.
func (p *Policies) Lookup(purpose models.OTPPurpose) (Policy, bool) {
	policy, ok := p.byPurpose[purpose]
	return policy, ok
}

// ParsePurpose converts a wire name into a known purpose.
func ParsePurpose(value string) (models.OTPPurpose, bool) {
	purpose := models.OTPPurpose(strings.ToUpper(strings.TrimSpace(value)))
	switch purpose {
	case models.PurposeVerifyEmail,
		models.PurposeResetPassword,
		models.PurposeResetEmail,
		models.PurposeAuthenticationTwoFA,
		models.PurposeAuthorizationTwoFA:
		return purpose, true
	default:
		return "", false
	}
}

// NormalizeAddress lower-cases and trims an email address so lookups are case insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
