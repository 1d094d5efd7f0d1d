package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/app"
	iauth "github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/handlers"
	"github.com/charlesng35/passgate/internal/middleware"
	"github.com/charlesng35/passgate/internal/services"
)

const (
	defaultRateRequests = 30
	defaultRateWindow   = time.Minute
)

// Dependencies are the wired components the router exposes over HTTP.
type Dependencies struct {
	DB        *gorm.DB
	Config    *app.Config
	Directory *directory.Directory
	Tokens    *iauth.TokenManager
	Accounts  *services.AccountService
	Audit     *services.AuditService
	Cache     cache.Store
}

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("database handle must be provided")
	case deps.Config == nil:
		return nil, fmt.Errorf("config must be provided")
	case deps.Directory == nil:
		return nil, fmt.Errorf("directory must be provided")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token manager must be provided")
	case deps.Accounts == nil:
		return nil, fmt.Errorf("account service must be provided")
	case deps.Audit == nil:
		return nil, fmt.Errorf("audit service must be provided")
	}

	cfg := deps.Config
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	if cfg.Server.CORS.Enabled {
		r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins))
	}

	registerHealthRoutes(r, deps.DB)
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	requests := cfg.Server.RateLimit.Requests
	if requests <= 0 {
		requests = defaultRateRequests
	}
	window := cfg.Server.RateLimit.Window
	if window <= 0 {
		window = defaultRateWindow
	}

	v1 := r.Group("/api/v1")
	public := v1.Group("")
	public.Use(middleware.RateLimit(deps.Cache, requests, window))

	protected := v1.Group("")
	protected.Use(middleware.Auth(deps.Tokens))

	authHandler := handlers.NewAuthHandler(deps.Accounts)
	registerAuthRoutes(public, protected, authHandler)

	accountHandler := handlers.NewAccountHandler(deps.Accounts)
	registerAccountRoutes(protected, accountHandler, deps.Accounts)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	registerAdminRoutes(protected, auditHandler, deps.Directory)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
