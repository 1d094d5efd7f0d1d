package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/internal/app"
	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
	"github.com/charlesng35/passgate/internal/services"
)

func newTestRouter(t *testing.T, mutate func(cfg *app.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	registry, err := dispatch.NewRegistry(dispatch.MethodLog, map[string]dispatch.Channel{
		dispatch.MethodLog: dispatch.NewLogChannel(nil),
	})
	require.NoError(t, err)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	core, err := services.NewCore(db, services.CoreConfig{
		Channels: registry,
		Codes:    otp.FixedGenerator(otp.DefaultFixedCode),
		Policies: otp.DefaultPolicyConfig(),
		Cache:    store,
	})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.Environment = "testing"
	if mutate != nil {
		mutate(cfg)
	}

	router, err := NewRouter(Dependencies{
		DB:        db,
		Config:    cfg,
		Directory: core.Directory,
		Tokens:    core.Tokens,
		Accounts:  core.Accounts,
		Audit:     core.Audit,
		Cache:     store,
	})
	require.NoError(t, err)
	return router
}

func serve(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := serve(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodGet, "/api/v1/admin/audit-logs", map[string]string{"Authorization": "Bearer bogus|token"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodGet, "/api/v1/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	router = newTestRouter(t, func(cfg *app.Config) {
		cfg.Monitoring.Prometheus.Enabled = true
		cfg.Monitoring.Prometheus.Endpoint = "/internal/metrics"
	})

	_ = serve(router, http.MethodGet, "/health", nil)
	rec = serve(router, http.MethodGet, "/internal/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "passgate_api_latency_seconds"))
}

func TestRouter_CORS(t *testing.T) {
	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.Server.CORS.Enabled = true
		cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	})

	rec := serve(router, http.MethodGet, "/health", map[string]string{"Origin": "https://app.example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
