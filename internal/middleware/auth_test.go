package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	f := newTokenFixture(t)
	user, token := f.signIn(t, "alice@example.com")

	r := gin.New()
	r.GET("/secure", Auth(f.tokens), func(c *gin.Context) {
		current, ok := CurrentUser(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(CtxUserIDKey),
			"email":   current.Email,
		})
	})

	// Missing Authorization header -> 401
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	// Unknown token -> 401
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer abc|def")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token -> downstream handler executes
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, user.ID, payload["user_id"])
	require.Equal(t, "alice@example.com", payload["email"])
}

func TestAuthMiddlewareRejectsRevokedToken(t *testing.T) {
	f := newTokenFixture(t)
	_, token := f.signIn(t, "bob@example.com")
	require.NoError(t, f.tokens.RevokeCurrent(context.Background(), token))

	r := gin.New()
	r.GET("/secure", Auth(f.tokens), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}
