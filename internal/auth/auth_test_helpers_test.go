package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
)

type issuedCode struct {
	address string
	purpose models.OTPPurpose
	method  string
}

type recordingIssuer struct {
	mu    sync.Mutex
	calls []issuedCode
	err   error
}

func (r *recordingIssuer) IssueCode(_ context.Context, address string, purpose models.OTPPurpose, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, issuedCode{address: address, purpose: purpose, method: method})
	return nil
}

type authFixture struct {
	db     *gorm.DB
	users  *directory.Directory
	tokens *TokenManager
	codes  *recordingIssuer
	auth   *Authenticator
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	users, err := directory.New(db)
	require.NoError(t, err)
	tokens, err := NewTokenManager(db, TokenConfig{})
	require.NoError(t, err)
	codes := &recordingIssuer{}
	authenticator, err := NewAuthenticator(db, users, tokens, codes)
	require.NoError(t, err)

	return &authFixture{db: db, users: users, tokens: tokens, codes: codes, auth: authenticator}
}

func (f *authFixture) createUser(t *testing.T, email string, roles ...string) *models.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), directory.NewUser{
		Username: "u" + email[:3],
		Email:    email,
		Password: "Str0ngPass!",
		Roles:    roles,
	})
	require.NoError(t, err)
	return user
}

func activeTokenCount(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.AccessToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Count(&count).Error)
	return count
}
