package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/passgate/internal/models"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/mail"
)

type recordingMailer struct {
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.messages = append(m.messages, msg)
	return m.err
}

type stubPhones map[string]string

func (s stubPhones) PhoneForAddress(_ context.Context, address string) (string, error) {
	return s[address], nil
}

type stubTwilio struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (s *stubTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestRegistryResolvesDefaultAndNamedMethods(t *testing.T) {
	email := ChannelFunc(func(context.Context, Message) error { return nil })
	logCh := NewLogChannel(nil)

	registry, err := NewRegistry(MethodEmail, map[string]Channel{
		"email":   email,
		MethodLog: logCh,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"EMAIL", "LOG"}, registry.Methods())

	_, method, err := registry.Resolve("")
	require.NoError(t, err)
	require.Equal(t, MethodEmail, method)

	channel, method, err := registry.Resolve(" log ")
	require.NoError(t, err)
	require.Equal(t, MethodLog, method)
	require.Same(t, logCh, channel)
}

func TestRegistryRejectsUnknownMethod(t *testing.T) {
	registry, err := NewRegistry(MethodEmail, map[string]Channel{
		MethodEmail: ChannelFunc(func(context.Context, Message) error { return nil }),
	})
	require.NoError(t, err)

	_, _, err = registry.Resolve("PIGEON")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrUnsupportedMethod))
	require.Contains(t, err.Error(), "PIGEON")
}

func TestNewRegistryRequiresDefaultChannel(t *testing.T) {
	_, err := NewRegistry(MethodSMS, map[string]Channel{
		MethodEmail: ChannelFunc(func(context.Context, Message) error { return nil }),
	})
	require.Error(t, err)
}

func TestSubjectAndBody(t *testing.T) {
	require.Equal(t, "Password Reset Code", Subject(models.PurposeResetPassword))
	require.Equal(t, "Sign-In Verification Code", Subject(models.PurposeAuthenticationTwoFA))
	require.Equal(t, "Custom Thing Code", Subject(models.OTPPurpose("CUSTOM_THING_OTP")))

	body := Body(Message{Code: "004211", Purpose: models.PurposeVerifyEmail, ExpiresIn: 5 * time.Minute})
	require.Contains(t, body, "email verification code is 004211")
	require.Contains(t, body, "5 minutes")
}

func TestEmailChannelComposesMessage(t *testing.T) {
	mailer := &recordingMailer{}
	channel, err := NewEmailChannel(mailer)
	require.NoError(t, err)

	err = channel.Send(context.Background(), Message{
		Address:   "user@example.com",
		Code:      "123456",
		Purpose:   models.PurposeResetEmail,
		ExpiresIn: 5 * time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, mailer.messages, 1)
	require.Equal(t, []string{"user@example.com"}, mailer.messages[0].To)
	require.Equal(t, "Email Change Code", mailer.messages[0].Subject)
	require.Contains(t, mailer.messages[0].Body, "123456")

	mailer.err = mail.ErrSMTPDisabled
	require.ErrorIs(t, channel.Send(context.Background(), Message{Address: "user@example.com"}), mail.ErrSMTPDisabled)
}

func TestSMSChannelSendsToResolvedPhone(t *testing.T) {
	api := &stubTwilio{}
	channel, err := NewSMSChannelWithAPI(api, "+15550000000", stubPhones{"user@example.com": "+15551234567"})
	require.NoError(t, err)

	msg, err := Prepare(context.Background(), channel, Message{
		Address: "user@example.com",
		Code:    "654321",
		Purpose: models.PurposeAuthenticationTwoFA,
	})
	require.NoError(t, err)
	require.Equal(t, "+15551234567", msg.Phone)

	require.NoError(t, channel.Send(context.Background(), msg))
	require.Len(t, api.params, 1)
	require.Equal(t, "+15551234567", *api.params[0].To)
	require.Equal(t, "+15550000000", *api.params[0].From)
	require.Contains(t, *api.params[0].Body, "654321")
}

func TestSMSChannelUsesOwnerPhone(t *testing.T) {
	channel, err := NewSMSChannelWithAPI(&stubTwilio{}, "+1", stubPhones{"old@example.com": "+15557654321"})
	require.NoError(t, err)

	msg, err := channel.Prepare(context.Background(), Message{
		Address: "new@example.com",
		Owner:   "old@example.com",
		Purpose: models.PurposeResetEmail,
	})
	require.NoError(t, err)
	require.Equal(t, "+15557654321", msg.Phone)
}

type missingPhones struct{}

func (missingPhones) PhoneForAddress(context.Context, string) (string, error) {
	return "", apperrors.ErrNotFound.WithMessage("User not found")
}

type brokenPhones struct{}

func (brokenPhones) PhoneForAddress(context.Context, string) (string, error) {
	return "", errors.New("connection reset")
}

func TestSMSChannelFailures(t *testing.T) {
	api := &stubTwilio{err: errors.New("twilio down")}
	channel, err := NewSMSChannelWithAPI(api, "+1", stubPhones{"a@example.com": "+1555"})
	require.NoError(t, err)

	_, err = channel.Prepare(context.Background(), Message{Address: "missing@example.com"})
	require.ErrorIs(t, err, ErrNoPhoneNumber)

	require.ErrorIs(t, channel.Send(context.Background(), Message{Address: "a@example.com"}), ErrNoPhoneNumber)
	require.Empty(t, api.params)

	err = channel.Send(context.Background(), Message{Address: "a@example.com", Phone: "+1555"})
	require.ErrorContains(t, err, "twilio down")

	unknown, err := NewSMSChannelWithAPI(api, "+1", missingPhones{})
	require.NoError(t, err)
	_, err = unknown.Prepare(context.Background(), Message{Address: "new@example.com"})
	require.ErrorIs(t, err, ErrNoPhoneNumber)

	broken, err := NewSMSChannelWithAPI(api, "+1", brokenPhones{})
	require.NoError(t, err)
	_, err = broken.Prepare(context.Background(), Message{Address: "a@example.com"})
	require.ErrorContains(t, err, "connection reset")
	require.NotErrorIs(t, err, ErrNoPhoneNumber)
}

func TestPrepareWithoutPreparerReturnsMessage(t *testing.T) {
	msg := Message{Address: "a@example.com", Code: "111111"}
	out, err := Prepare(context.Background(), ChannelFunc(func(context.Context, Message) error { return nil }), msg)
	require.NoError(t, err)
	require.Equal(t, msg, out)
	require.Equal(t, "a@example.com", out.OwnerAddress())
}

func TestNewSMSChannelValidatesSettings(t *testing.T) {
	_, err := NewSMSChannel(TwilioSettings{AccountSID: "AC1"}, stubPhones{})
	require.Error(t, err)

	_, err = NewSMSChannel(TwilioSettings{AccountSID: "AC1", AuthToken: "t", From: "+1"}, nil)
	require.Error(t, err)
}

func TestLogChannelWritesCode(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	channel := NewLogChannel(zap.New(core))

	require.NoError(t, channel.Send(context.Background(), Message{Address: "a@example.com", Code: "111111"}))
	require.Equal(t, 1, recorded.Len())
	require.Equal(t, "111111", recorded.All()[0].ContextMap()["code"])
}
