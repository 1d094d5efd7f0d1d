package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Passgate service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	OTP         OTPConfig         `mapstructure:"otp"`
	Email       EmailConfig       `mapstructure:"email"`
	SMS         SMSConfig         `mapstructure:"sms"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Bootstrap   BootstrapConfig   `mapstructure:"bootstrap"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int        `mapstructure:"port"`
	LogLevel    string     `mapstructure:"log_level"`
	LogFormat   string     `mapstructure:"log_format"`
	Environment string     `mapstructure:"environment"`
	CORS        CORSConfig `mapstructure:"cors"`
	RateLimit   RateConfig `mapstructure:"rate_limit"`
}

// CORSConfig controls cross origin access to the API.
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateConfig throttles unauthenticated auth endpoints per client IP.
type RateConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Driver string           `mapstructure:"driver"`
	Redis  RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures credential and token settings.
type AuthConfig struct {
	TokenSecretBytes int `mapstructure:"token_secret_bytes"`
}

// OTPConfig controls one-time code lifetimes and resend throttling.
type OTPConfig struct {
	Digits             int           `mapstructure:"digits"`
	TTL                time.Duration `mapstructure:"ttl"`
	ResetGrace         time.Duration `mapstructure:"reset_grace"`
	AuthorizeGrace     time.Duration `mapstructure:"authorization_grace"`
	FixedCode          string        `mapstructure:"fixed_code"`
	ResendCooldown     time.Duration `mapstructure:"resend_cooldown"`
	ResendWindow       time.Duration `mapstructure:"resend_window"`
	ResendMaxPerWindow int           `mapstructure:"resend_max_per_window"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig captures outbound SMS settings.
type SMSConfig struct {
	Twilio TwilioConfig `mapstructure:"twilio"`
}

// TwilioConfig holds Twilio REST credentials.
type TwilioConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

// MaintenanceConfig schedules background cleanup jobs.
type MaintenanceConfig struct {
	CodesSchedule  string `mapstructure:"codes_schedule"`
	TokensSchedule string `mapstructure:"tokens_schedule"`
	AuditSchedule  string `mapstructure:"audit_schedule"`
	AuditRetention int    `mapstructure:"audit_retention_days"`
}

// BootstrapConfig seeds an owner account on first start.
type BootstrapConfig struct {
	Owner OwnerConfig `mapstructure:"owner"`
}

// OwnerConfig describes the initial owner account.
type OwnerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Username  string `mapstructure:"username"`
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
}

// IsProduction reports whether one-time codes must be drawn from a secure random source.
func (c ServerConfig) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "production", "prod":
		return true
	default:
		return false
	}
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PASSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests", 30)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/passgate.sqlite")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.token_secret_bytes", 30)

	v.SetDefault("otp.digits", 6)
	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.reset_grace", "10m")
	v.SetDefault("otp.authorization_grace", "30m")
	v.SetDefault("otp.fixed_code", "111111")
	v.SetDefault("otp.resend_cooldown", "60s")
	v.SetDefault("otp.resend_window", "1h")
	v.SetDefault("otp.resend_max_per_window", 5)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.from_name", "Passgate")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.twilio.enabled", false)

	v.SetDefault("maintenance.codes_schedule", "@every 15m")
	v.SetDefault("maintenance.tokens_schedule", "@every 1h")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.audit_retention_days", 90)

	v.SetDefault("bootstrap.owner.enabled", false)
	v.SetDefault("bootstrap.owner.username", "owner")
	v.SetDefault("bootstrap.owner.first_name", "System")
	v.SetDefault("bootstrap.owner.last_name", "Owner")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
