package otp

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/models"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

// ThrottleConfig bounds how often codes may be re-sent for one (address, purpose).
type ThrottleConfig struct {
	Cooldown     time.Duration
	Window       time.Duration
	MaxPerWindow int
}

// Throttle limits resend requests using the shared cache store.
type Throttle struct {
	store cache.Store
	cfg   ThrottleConfig
	now   func() time.Time
}

// NewThrottle constructs a Throttle. Zero values fall back to a one minute
// cooldown and five sends per hour.
func NewThrottle(store cache.Store, cfg ThrottleConfig) *Throttle {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 5
	}
	return &Throttle{store: store, cfg: cfg, now: time.Now}
}

// Allow records a send for (address, purpose) or returns ErrRateLimit when the
// cooldown has not elapsed or the window budget is spent.
func (t *Throttle) Allow(ctx context.Context, address string, purpose models.OTPPurpose) error {
	if t == nil || t.store == nil {
		return nil
	}

	suffix := NormalizeAddress(address) + ":" + string(purpose)
	lastKey := "otp:last:" + suffix
	countKey := "otp:count:" + suffix
	now := t.now()

	raw, found, err := t.store.Get(ctx, lastKey)
	if err != nil {
		return fmt.Errorf("otp throttle: read cooldown: %w", err)
	}
	if found {
		if deadline, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			if wait := time.Unix(0, deadline).Sub(now); wait > 0 {
				return limited(wait)
			}
		}
	}

	count, remaining, err := t.store.IncrementWithTTL(ctx, countKey, t.cfg.Window)
	if err != nil {
		return fmt.Errorf("otp throttle: count: %w", err)
	}
	if count > int64(t.cfg.MaxPerWindow) {
		return limited(remaining)
	}

	deadline := strconv.FormatInt(now.Add(t.cfg.Cooldown).UnixNano(), 10)
	if err := t.store.Set(ctx, lastKey, []byte(deadline), t.cfg.Cooldown); err != nil {
		return fmt.Errorf("otp throttle: write cooldown: %w", err)
	}
	return nil
}

func limited(wait time.Duration) error {
	seconds := int64(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return apperrors.ErrRateLimit.WithMessage(fmt.Sprintf("Please wait %d seconds before requesting another code", seconds))
}
