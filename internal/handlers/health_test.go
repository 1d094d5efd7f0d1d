package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/internal/handlers/testutil"
)

func TestHealthAndMetrics(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, testutil.DecodeResponse(t, w).Success)

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "passgate_api_latency_seconds")

	w = env.Request(http.MethodGet, "/api/v1/missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}
