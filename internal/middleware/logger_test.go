package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/pkg/logger"
)

func TestLoggerMiddleware(t *testing.T) {
	require.NoError(t, logger.Init("debug"))

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "pong", w.Body.String())
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDPropagatesCallerValue(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestIDKey))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	r.ServeHTTP(w, req)

	require.Equal(t, "req-42", w.Body.String())
	require.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
