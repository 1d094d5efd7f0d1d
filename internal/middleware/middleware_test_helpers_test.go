package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tokenFixture struct {
	users  *directory.Directory
	tokens *iauth.TokenManager
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	users, err := directory.New(db)
	require.NoError(t, err)
	tokens, err := iauth.NewTokenManager(db, iauth.TokenConfig{})
	require.NoError(t, err)
	return &tokenFixture{users: users, tokens: tokens}
}

func (f *tokenFixture) signIn(t *testing.T, email string) (*models.User, string) {
	t.Helper()

	user, err := f.users.Create(context.Background(), directory.NewUser{
		Username: "u" + email[:4],
		Email:    email,
		Password: "Str0ngPass!",
	})
	require.NoError(t, err)
	issued, err := f.tokens.Issue(context.Background(), user.ID, iauth.TokenMetadata{})
	require.NoError(t, err)
	return user, issued.Token
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *response.ErrorInfo {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.NotNil(t, payload.Error)
	return payload.Error
}
