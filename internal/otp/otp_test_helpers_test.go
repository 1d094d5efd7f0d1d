package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
)

const testCode = "424242"

var errDeliveryFailed = errors.New("mailbox unavailable")

type outbox struct {
	mu   sync.Mutex
	sent []dispatch.Message
}

func (o *outbox) Send(_ context.Context, msg dispatch.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type fixture struct {
	db       *gorm.DB
	users    *directory.Directory
	tokens   *auth.TokenManager
	issuer   *Issuer
	verifier *Verifier
	outbox   *outbox
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	users, err := directory.New(db)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(db, auth.TokenConfig{})
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		users:  users,
		tokens: tokens,
		outbox: &outbox{},
		now:    time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	registry, err := dispatch.NewRegistry(dispatch.MethodEmail, map[string]dispatch.Channel{
		dispatch.MethodEmail: f.outbox,
		"FAIL": dispatch.ChannelFunc(func(context.Context, dispatch.Message) error {
			return errDeliveryFailed
		}),
		"NOPHONE": dispatch.ChannelFunc(func(context.Context, dispatch.Message) error {
			return dispatch.ErrNoPhoneNumber
		}),
	})
	require.NoError(t, err)

	policies := NewPolicies(DefaultPolicyConfig())
	f.issuer, err = NewIssuer(db, IssuerConfig{
		Policies: policies,
		Channels: registry,
		Codes:    FixedGenerator(testCode),
		Clock:    clock,
	})
	require.NoError(t, err)

	f.verifier, err = NewVerifier(db, VerifierConfig{
		Policies:  policies,
		Directory: users,
		Tokens:    tokens,
		Clock:     clock,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) createUser(t *testing.T, username, email string) *models.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), directory.NewUser{
		Username: username,
		Email:    email,
		Password: "Str0ngPass!",
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) issue(t *testing.T, address string, purpose models.OTPPurpose) *models.OneTimeCode {
	t.Helper()
	record, err := f.issuer.Issue(context.Background(), IssueRequest{Address: address, Purpose: purpose})
	require.NoError(t, err)
	return record
}

func (f *fixture) records(t *testing.T, address string) []models.OneTimeCode {
	t.Helper()
	var out []models.OneTimeCode
	require.NoError(t, f.db.Where("address = ?", address).Find(&out).Error)
	return out
}

func authMeta() auth.TokenMetadata {
	return auth.TokenMetadata{UserAgent: "unit-test"}
}
