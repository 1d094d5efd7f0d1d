package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/auth"
	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/directory"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/internal/otp"
	"github.com/charlesng35/passgate/internal/otp/dispatch"
	"github.com/charlesng35/passgate/pkg/crypto"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

const code = otp.DefaultFixedCode

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

func (o *outbox) last() dispatch.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

type smsRecorder struct {
	mu     sync.Mutex
	params []*twilioApi.CreateMessageParams
}

func (r *smsRecorder) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, params)
	sid := "SM1"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func (r *smsRecorder) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.params))
	for _, p := range r.params {
		out = append(out, *p.To)
	}
	return out
}

type accountFixture struct {
	db      *gorm.DB
	users   *directory.Directory
	tokens  *auth.TokenManager
	audit   *AuditService
	outbox  *outbox
	sms     *smsRecorder
	service *AccountService
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	users, err := directory.New(db)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(db, auth.TokenConfig{})
	require.NoError(t, err)

	box := &outbox{}
	sms := &smsRecorder{}
	smsChannel, err := dispatch.NewSMSChannelWithAPI(sms, "+15550000000", users)
	require.NoError(t, err)
	registry, err := dispatch.NewRegistry(dispatch.MethodEmail, map[string]dispatch.Channel{
		dispatch.MethodEmail: box,
		dispatch.MethodSMS:   smsChannel,
	})
	require.NoError(t, err)

	policies := otp.NewPolicies(otp.DefaultPolicyConfig())
	issuer, err := otp.NewIssuer(db, otp.IssuerConfig{Policies: policies, Channels: registry, Codes: otp.FixedGenerator(code)})
	require.NoError(t, err)
	verifier, err := otp.NewVerifier(db, otp.VerifierConfig{Policies: policies, Directory: users, Tokens: tokens})
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(db, users, tokens, issuer)
	require.NoError(t, err)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewAccountService(db, AccountDeps{
		Directory:     users,
		Tokens:        tokens,
		Authenticator: authenticator,
		Issuer:        issuer,
		Verifier:      verifier,
		Throttle:      otp.NewThrottle(store, otp.ThrottleConfig{Cooldown: time.Minute, Window: time.Hour, MaxPerWindow: 3}),
		Audit:         audit,
	})
	require.NoError(t, err)

	return &accountFixture{db: db, users: users, tokens: tokens, audit: audit, outbox: box, sms: sms, service: svc}
}

func (f *accountFixture) register(t *testing.T, username, email string) *models.User {
	t.Helper()
	user, err := f.service.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     email,
		Password:  "Str0ngPass!",
		FirstName: "Test",
		LastName:  "User",
	}, RequestMeta{IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return user
}

func (f *accountFixture) verifiedUser(t *testing.T, username, email string) (*models.User, string) {
	t.Helper()
	f.register(t, username, email)
	outcome, err := f.service.VerifyCode(context.Background(), email, models.PurposeVerifyEmail, code, RequestMeta{})
	require.NoError(t, err)
	return outcome.User, outcome.Token
}

func TestRegisterSendsVerificationCode(t *testing.T) {
	f := newAccountFixture(t)
	user := f.register(t, "alice", "Alice@Example.com")
	require.Equal(t, "alice@example.com", user.Email)

	msg := f.outbox.last()
	require.Equal(t, "alice@example.com", msg.Address)
	require.Equal(t, models.PurposeVerifyEmail, msg.Purpose)

	logs, total, err := f.audit.List(context.Background(), AuditListOptions{Filters: AuditFilters{Action: ActionRegister}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, AuditSuccess, logs[0].Result)
}

func TestRegisterRejectsUnknownMethodBeforeCreating(t *testing.T) {
	f := newAccountFixture(t)

	_, err := f.service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Str0ngPass!",
		Method:   "TELEGRAM",
	}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrUnsupportedMethod)

	taken, err := f.users.EmailTaken(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.False(t, taken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newAccountFixture(t)
	f.register(t, "alice", "alice@example.com")

	_, err := f.service.Register(context.Background(), RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "Str0ngPass!"}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestVerifyEmailSignsIn(t *testing.T) {
	f := newAccountFixture(t)
	user, token := f.verifiedUser(t, "alice", "alice@example.com")
	require.NotEmpty(t, token)
	require.True(t, user.IsEmailVerified())

	profile, access, err := f.service.Profile(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, profile.IsEmailVerified())
	require.Equal(t, []string{"ACCESS_USER"}, access.Permissions)
}

func TestVerifyCodeRejectsEmailChangePurpose(t *testing.T) {
	f := newAccountFixture(t)
	_, err := f.service.VerifyCode(context.Background(), "alice@example.com", models.PurposeResetEmail, code, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user, token := f.verifiedUser(t, "alice", "alice@example.com")

	require.ErrorIs(t, f.service.ResetPassword(ctx, "alice@example.com", "N3wPassword!", RequestMeta{}), apperrors.ErrInvalidOrExpiredCode)

	err := f.service.ForgotPassword(ctx, "ghost@example.com", "", RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, f.service.ForgotPassword(ctx, "alice@example.com", "", RequestMeta{}))
	require.Equal(t, models.PurposeResetPassword, f.outbox.last().Purpose)
	require.ErrorIs(t, f.service.ResetPassword(ctx, "alice@example.com", "N3wPassword!", RequestMeta{}), apperrors.ErrInvalidOrExpiredCode)

	outcome, err := f.service.VerifyCode(ctx, "alice@example.com", models.PurposeResetPassword, code, RequestMeta{})
	require.NoError(t, err)
	require.Empty(t, outcome.Token)

	require.NoError(t, f.service.ResetPassword(ctx, "alice@example.com", "N3wPassword!", RequestMeta{}))

	reloaded, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifyPassword(reloaded.Password, "N3wPassword!"))

	_, err = f.tokens.Resolve(ctx, token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.ErrorIs(t, f.service.ResetPassword(ctx, "alice@example.com", "Other1234!", RequestMeta{}), apperrors.ErrInvalidOrExpiredCode)
}

func TestEmailChangeFlow(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice, _ := f.verifiedUser(t, "alice", "alice@example.com")
	f.register(t, "bob", "bob@example.com")

	require.ErrorIs(t, f.service.RequestEmailChange(ctx, alice, "ALICE@example.com", "", RequestMeta{}), apperrors.ErrBadRequest)
	require.ErrorIs(t, f.service.RequestEmailChange(ctx, alice, "bob@example.com", "", RequestMeta{}), apperrors.ErrConflict)

	require.NoError(t, f.service.RequestEmailChange(ctx, alice, "alice.new@example.com", "", RequestMeta{}))
	msg := f.outbox.last()
	require.Equal(t, "alice.new@example.com", msg.Address)
	require.Equal(t, models.PurposeResetEmail, msg.Purpose)

	require.ErrorIs(t, f.service.VerifyEmailChange(ctx, alice, "alice.new@example.com", "999999", RequestMeta{}), apperrors.ErrInvalidOrExpiredCode)
	require.NoError(t, f.service.VerifyEmailChange(ctx, alice, "alice.new@example.com", code, RequestMeta{}))

	reloaded, err := f.users.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice.new@example.com", reloaded.Email)
}

func TestEmailChangeBySMSUsesRequesterPhone(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	alice, err := f.users.Create(ctx, directory.NewUser{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Str0ngPass!",
		PhoneNo:  "+15551234567",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.RequestEmailChange(ctx, alice, "alice.new@example.com", "sms", RequestMeta{}))
	require.Equal(t, []string{"+15551234567"}, f.sms.recipients())

	var pending int64
	require.NoError(t, f.db.Model(&models.OneTimeCode{}).
		Where("address = ? AND purpose = ?", "alice.new@example.com", models.PurposeResetEmail).
		Count(&pending).Error)
	require.EqualValues(t, 1, pending)

	bob, err := f.users.Create(ctx, directory.NewUser{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "Str0ngPass!",
	})
	require.NoError(t, err)

	err = f.service.RequestEmailChange(ctx, bob, "bob.new@example.com", "SMS", RequestMeta{})
	require.ErrorIs(t, err, otp.ErrNoPhoneNumber)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Len(t, f.sms.recipients(), 1)
}

func TestAuthorizationAndTwoFactor(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice, _ := f.verifiedUser(t, "alice", "alice@example.com")

	ok, err := f.service.HasAuthorization(ctx, alice)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.service.RequestAuthorization(ctx, alice, "", RequestMeta{}))
	_, err = f.service.VerifyCode(ctx, alice.Email, models.PurposeAuthorizationTwoFA, code, RequestMeta{})
	require.NoError(t, err)

	ok, err = f.service.HasAuthorization(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.service.SetTwoFactor(ctx, alice, true, RequestMeta{}))

	outcome, err := f.service.Login(ctx, auth.LoginInput{Email: alice.Email, Password: "Str0ngPass!"}, false)
	require.NoError(t, err)
	require.True(t, outcome.SecondFactorRequired)
	require.Equal(t, models.PurposeAuthenticationTwoFA, f.outbox.last().Purpose)

	verified, err := f.service.VerifyCode(ctx, alice.Email, models.PurposeAuthenticationTwoFA, code, RequestMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, verified.Token)
}

func TestResendRules(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@example.com")

	err := f.service.ResendCode(ctx, ResendInput{Email: "ghost@example.com", Purpose: models.PurposeVerifyEmail}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	err = f.service.ResendCode(ctx, ResendInput{Email: "new@example.com", Purpose: models.PurposeResetEmail}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	err = f.service.ResendCode(ctx, ResendInput{Email: "alice@example.com", Purpose: models.PurposeVerifyEmail, Method: "PIGEON"}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrUnsupportedMethod)

	err = f.service.ResendCode(ctx, ResendInput{Email: "alice@example.com", Purpose: "BOGUS"}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, f.service.ResendCode(ctx, ResendInput{Email: "alice@example.com", Purpose: models.PurposeVerifyEmail}, RequestMeta{}))
	err = f.service.ResendCode(ctx, ResendInput{Email: "alice@example.com", Purpose: models.PurposeVerifyEmail}, RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrRateLimit)

	require.NoError(t, f.service.RequestEmailChange(ctx, alice, "new@example.com", "", RequestMeta{}))
	require.NoError(t, f.service.ResendCode(ctx, ResendInput{Email: "new@example.com", Purpose: models.PurposeResetEmail}, RequestMeta{}))
}

func TestLoginAndLogoutAreAudited(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice, _ := f.verifiedUser(t, "alice", "alice@example.com")

	_, err := f.service.Login(ctx, auth.LoginInput{Email: alice.Email, Password: "bad"}, false)
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = f.service.Login(ctx, auth.LoginInput{Email: alice.Email, Password: "Str0ngPass!"}, true)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	outcome, err := f.service.Login(ctx, auth.LoginInput{Email: alice.Email, Password: "Str0ngPass!"}, false)
	require.NoError(t, err)
	require.NoError(t, f.service.Logout(ctx, alice, outcome.Token, RequestMeta{}))

	logs, total, err := f.audit.List(ctx, AuditListOptions{Filters: AuditFilters{Address: alice.Email, Action: ActionLogin}})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	_, failures, err := f.audit.List(ctx, AuditListOptions{Filters: AuditFilters{Result: AuditFailure}})
	require.NoError(t, err)
	require.Equal(t, int64(2), failures)
}
