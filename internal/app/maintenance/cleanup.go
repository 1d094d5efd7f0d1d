package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultCodesSpec          = "@every 15m"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@hourly"
)

// ExpiryPurger deletes rows whose expiry lies before now. Both the one-time
// code store and the database cache store satisfy it.
type ExpiryPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner coordinates background maintenance tasks such as purging expired codes,
// removing revoked tokens and pruning stale audit logs.
type Cleaner struct {
	codes     ExpiryPurger
	cache     ExpiryPurger
	tokens    *iauth.TokenManager
	audit     *services.AuditService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	codesSchedule string
	auditSchedule string
	tokenSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithCodesSchedule overrides the cron expression for expired code cleanup.
// Expired database cache entries are purged on the same schedule.
func WithCodesSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.codesSchedule = schedule
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.auditSchedule = schedule
		}
	}
}

// WithTokenSchedule overrides the cron expression for revoked token cleanup.
func WithTokenSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.tokenSchedule = schedule
		}
	}
}

// WithCachePurger enables purging of a database backed cache.
func WithCachePurger(p ExpiryPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = p
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(codes ExpiryPurger, tokens *iauth.TokenManager, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		codes:         codes,
		tokens:        tokens,
		audit:         audit,
		now:           time.Now,
		retention:     defaultAuditRetentionDays,
		codesSchedule: defaultCodesSpec,
		auditSchedule: defaultAuditSpec,
		tokenSchedule: defaultTokenSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.codes != nil || c.cache != nil || c.tokens != nil || c.audit != nil
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.codes != nil || c.cache != nil {
		if _, err := c.cron.AddFunc(c.codesSchedule, func() {
			if err := c.purgeExpired(context.Background()); err != nil {
				c.log.Warn("expired record cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.tokens != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := c.tokens.CleanupRevoked(context.Background()); err != nil {
				c.log.Warn("token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(context.Background(), c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	errs := c.purgeExpired(ctx)

	if c.tokens != nil {
		if _, err := c.tokens.CleanupRevoked(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) purgeExpired(ctx context.Context) error {
	var errs error
	now := c.now()

	if c.codes != nil {
		removed, err := c.codes.PurgeExpired(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Debug("purged expired codes", zap.Int64("count", removed))
		}
	}

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
