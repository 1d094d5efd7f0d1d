package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/models"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

func newTestThrottle(t *testing.T, cfg ThrottleConfig) (*Throttle, *time.Time) {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	throttle := NewThrottle(store, cfg)
	now := time.Now()
	throttle.now = func() time.Time { return now }
	return throttle, &now
}

func TestThrottleEnforcesCooldown(t *testing.T) {
	throttle, now := newTestThrottle(t, ThrottleConfig{Cooldown: time.Minute, Window: time.Hour, MaxPerWindow: 10})
	ctx := context.Background()

	require.NoError(t, throttle.Allow(ctx, "alice@example.com", models.PurposeVerifyEmail))

	err := throttle.Allow(ctx, "ALICE@example.com", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, apperrors.ErrRateLimit)
	require.Contains(t, err.Error(), "60 seconds")

	require.NoError(t, throttle.Allow(ctx, "alice@example.com", models.PurposeResetPassword))

	*now = now.Add(61 * time.Second)
	require.NoError(t, throttle.Allow(ctx, "alice@example.com", models.PurposeVerifyEmail))
}

func TestThrottleEnforcesWindowBudget(t *testing.T) {
	throttle, now := newTestThrottle(t, ThrottleConfig{Cooldown: time.Second, Window: time.Hour, MaxPerWindow: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, throttle.Allow(ctx, "alice@example.com", models.PurposeVerifyEmail))
		*now = now.Add(2 * time.Second)
	}

	err := throttle.Allow(ctx, "alice@example.com", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, apperrors.ErrRateLimit)
}

func TestNilThrottleAllowsEverything(t *testing.T) {
	var throttle *Throttle
	require.NoError(t, throttle.Allow(context.Background(), "alice@example.com", models.PurposeVerifyEmail))
}

func TestNewThrottleDefaults(t *testing.T) {
	throttle := NewThrottle(nil, ThrottleConfig{})
	require.Equal(t, time.Minute, throttle.cfg.Cooldown)
	require.Equal(t, time.Hour, throttle.cfg.Window)
	require.Equal(t, 5, throttle.cfg.MaxPerWindow)
	require.NoError(t, throttle.Allow(context.Background(), "a@example.com", models.PurposeVerifyEmail))
}
