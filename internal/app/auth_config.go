package app

import (
	"strings"
	"time"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/otp"
)

const (
	defaultCodeTTL        = 5 * time.Minute
	defaultResetGrace     = 10 * time.Minute
	defaultAuthorizeGrace = 30 * time.Minute
)

// TokenManagerConfig converts AuthConfig into the parameters expected by the token manager.
func (c AuthConfig) TokenManagerConfig() auth.TokenConfig {
	secretBytes := c.TokenSecretBytes
	if secretBytes <= 0 {
		secretBytes = auth.DefaultSecretBytes
	}
	return auth.TokenConfig{SecretBytes: secretBytes}
}

// PolicyConfig converts OTPConfig into the lifetimes used by the issuer and verifier.
func (c OTPConfig) PolicyConfig() otp.PolicyConfig {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	resetGrace := c.ResetGrace
	if resetGrace <= 0 {
		resetGrace = defaultResetGrace
	}
	authorizeGrace := c.AuthorizeGrace
	if authorizeGrace <= 0 {
		authorizeGrace = defaultAuthorizeGrace
	}

	return otp.PolicyConfig{
		TTL:                ttl,
		ResetGrace:         resetGrace,
		AuthorizationGrace: authorizeGrace,
	}
}

// CodeGenerator selects the code source for the configured environment.
func (c Config) CodeGenerator() otp.CodeGenerator {
	if c.Server.IsProduction() {
		return otp.NewRandomGenerator(c.OTP.Digits)
	}

	fixed := strings.TrimSpace(c.OTP.FixedCode)
	if fixed == "" {
		fixed = otp.DefaultFixedCode
	}
	return otp.FixedGenerator(fixed)
}

// ThrottleConfig converts OTPConfig into resend throttle parameters.
func (c OTPConfig) ThrottleConfig() otp.ThrottleConfig {
	return otp.ThrottleConfig{
		Cooldown:     c.ResendCooldown,
		Window:       c.ResendWindow,
		MaxPerWindow: c.ResendMaxPerWindow,
	}
}
