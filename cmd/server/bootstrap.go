package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/api"
	"github.com/charlesng35/passgate/internal/app"
	"github.com/charlesng35/passgate/internal/app/maintenance"
	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/database"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/logger"
	"github.com/charlesng35/passgate/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Cache   cache.Store
	Core    *services.Core
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := seedOwner(stack.DB, cfg, log); err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache, err = selectCache(cfg, dbStore, log)
	if err != nil {
		return nil, err
	}

	users, err := directory.New(stack.DB)
	if err != nil {
		return nil, err
	}
	registry, err := buildDispatch(cfg, users, log)
	if err != nil {
		return nil, err
	}

	stack.Core, err = services.NewCore(stack.DB, services.CoreConfig{
		Channels: registry,
		Codes:    cfg.CodeGenerator(),
		Policies: cfg.OTP.PolicyConfig(),
		Tokens:   cfg.Auth.TokenManagerConfig(),
		Throttle: cfg.OTP.ThrottleConfig(),
		Cache:    stack.Cache,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise verification core: %w", err)
	}

	opts := []maintenance.Option{
		maintenance.WithCodesSchedule(cfg.Maintenance.CodesSchedule),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokensSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetention),
	}
	if stack.Cache == cache.Store(dbStore) {
		opts = append(opts, maintenance.WithCachePurger(dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(otp.NewStore(stack.DB), stack.Core.Tokens, stack.Core.Audit, opts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		Config:    cfg,
		Directory: stack.Core.Directory,
		Tokens:    stack.Core.Tokens,
		Accounts:  stack.Core.Accounts,
		Audit:     stack.Core.Audit,
		Cache:     stack.Cache,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if closer, ok := s.Cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("cache shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// selectCache picks the shared store for rate limits and resend throttling.
// Redis falls back to the database store when it cannot be reached.
func selectCache(cfg *app.Config, dbStore *cache.DatabaseStore, log *zap.Logger) (cache.Store, error) {
	switch backend := cfg.Cache.Backend(); backend {
	case "redis":
		store, err := cache.NewRedisStore(cfg.Cache.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			return dbStore, nil
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		return store, nil
	case "database", "db":
		return dbStore, nil
	case "memory":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", backend)
	}
}

// buildDispatch registers the delivery channels. EMAIL is always present and
// is the default; SMS requires Twilio credentials; LOG is only offered outside
// production.
func buildDispatch(cfg *app.Config, users *directory.Directory, log *zap.Logger) (*dispatch.Registry, error) {
	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; email delivery will fail")
	}
	email, err := dispatch.NewEmailChannel(mailer)
	if err != nil {
		return nil, err
	}

	channels := map[string]dispatch.Channel{dispatch.MethodEmail: email}

	if cfg.SMS.Twilio.Enabled {
		sms, err := dispatch.NewSMSChannel(cfg.SMS.TwilioSettings(), users)
		if err != nil {
			return nil, fmt.Errorf("initialise sms channel: %w", err)
		}
		channels[dispatch.MethodSMS] = sms
	}

	if !cfg.Server.IsProduction() {
		channels[dispatch.MethodLog] = dispatch.NewLogChannel(logger.WithModule("otp.dispatch"))
	}

	registry, err := dispatch.NewRegistry(dispatch.MethodEmail, channels)
	if err != nil {
		return nil, err
	}
	log.Info("dispatch channels ready", zap.Strings("methods", registry.Methods()))
	return registry, nil
}

func seedOwner(db *gorm.DB, cfg *app.Config, log *zap.Logger) error {
	owner := cfg.Bootstrap.Owner
	if !owner.Enabled {
		return nil
	}

	created, err := database.EnsureOwner(db, database.OwnerSeed{
		Username:  owner.Username,
		Email:     owner.Email,
		Password:  owner.Password,
		FirstName: owner.FirstName,
		LastName:  owner.LastName,
	})
	if err != nil {
		return fmt.Errorf("seed owner account: %w", err)
	}
	if created {
		log.Info("owner account created", zap.String("email", strings.ToLower(strings.TrimSpace(owner.Email))))
	}
	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
