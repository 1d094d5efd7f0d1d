package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/passgate/pkg/crypto"
)

const ownerPasswordBytes = 18

// ApplyRuntimeDefaults fills in values that must exist before the service starts.
// It returns a map describing which keys were generated so callers can log the
// event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	owner := &cfg.Bootstrap.Owner
	if owner.Enabled && strings.TrimSpace(owner.Password) == "" {
		secret, err := crypto.GenerateToken(ownerPasswordBytes)
		if err != nil {
			return nil, fmt.Errorf("generate owner password: %w", err)
		}
		owner.Password = secret
		generated["bootstrap.owner.password"] = true
	}

	if cfg.OTP.Digits <= 0 {
		cfg.OTP.Digits = 6
	}

	return generated, nil
}
