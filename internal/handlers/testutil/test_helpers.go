package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/api"
	"github.com/charlesng35/passgate/internal/app"
	"github.com/charlesng35/passgate/internal/cache"
	sharedtestutil "github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/response"
)

// Code is the fixed one-time code emitted in handler tests.
const Code = otp.DefaultFixedCode

// Password is the password given to users created through CreateUser.
const Password = "Str0ngPass!"

// Outbox records every delivered code instead of sending it.
type Outbox struct {
	mu   sync.Mutex
	sent []dispatch.Message
}

func (o *Outbox) Send(_ context.Context, msg dispatch.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (o *Outbox) Sent() []dispatch.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]dispatch.Message, len(o.sent))
	copy(out, o.sent)
	return out
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Core   *services.Core
	Outbox *Outbox
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	outbox := &Outbox{}
	registry, err := dispatch.NewRegistry(dispatch.MethodEmail, map[string]dispatch.Channel{
		dispatch.MethodEmail: outbox,
		dispatch.MethodLog:   dispatch.NewLogChannel(nil),
	})
	require.NoError(t, err)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	cfg := &app.Config{}
	cfg.Server.Environment = "testing"
	cfg.Server.RateLimit = app.RateConfig{Requests: 1000, Window: time.Minute}
	cfg.Monitoring.Prometheus.Enabled = true

	core, err := services.NewCore(db, services.CoreConfig{
		Channels: registry,
		Codes:    otp.FixedGenerator(Code),
		Policies: otp.DefaultPolicyConfig(),
		Throttle: otp.ThrottleConfig{Cooldown: time.Minute, Window: time.Hour, MaxPerWindow: 5},
		Cache:    store,
	})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		Directory: core.Directory,
		Tokens:    core.Tokens,
		Accounts:  core.Accounts,
		Audit:     core.Audit,
		Cache:     store,
	})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		Core:   core,
		Outbox: outbox,
	}
}

// CreateUser inserts an identity directly through the directory.
func (e *Env) CreateUser(username, email string, roles ...string) *models.User {
	e.T.Helper()

	user, err := e.Core.Directory.Create(context.Background(), directory.NewUser{
		Username:  username,
		Email:     email,
		Password:  Password,
		FirstName: "Test",
		LastName:  "User",
		Roles:     roles,
	})
	require.NoError(e.T, err)
	return user
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID               string   `json:"id"`
	Username         string   `json:"user_name"`
	Email            string   `json:"email"`
	TwoFactorEnabled bool     `json:"is_2fa_enabled"`
	EmailVerifiedAt  *string  `json:"email_verified_at"`
	Roles            []string `json:"roles"`
	Permissions      []string `json:"permissions"`
}

// SessionResult mirrors the payload returned when a session is started.
type SessionResult struct {
	Token string      `json:"token"`
	User  UserPayload `json:"user"`
}

// SignIn authenticates with email and password and returns the issued session.
func (e *Env) SignIn(email, password string) SessionResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/v1/auth/sign-in", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result SessionResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
