package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
)

// ErrNoPhoneNumber is returned when the address has no phone number on file.
var ErrNoPhoneNumber = errors.New("dispatch: no phone number on file for address")

// TwilioSettings holds the REST credentials and sender number.
type TwilioSettings struct {
	AccountSID string
	AuthToken  string
	From       string
}

// PhoneResolver maps an email address to the phone number used for SMS delivery.
type PhoneResolver interface {
	PhoneForAddress(ctx context.Context, address string) (string, error)
}

// MessageCreator is the subset of the Twilio messaging API used by SMSChannel.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSChannel delivers codes as text messages through Twilio.
type SMSChannel struct {
	api    MessageCreator
	from   string
	phones PhoneResolver
}

// NewSMSChannel builds a Twilio backed channel.
func NewSMSChannel(settings TwilioSettings, phones PhoneResolver) (*SMSChannel, error) {
	if settings.AccountSID == "" || settings.AuthToken == "" || settings.From == "" {
		return nil, errors.New("dispatch: twilio account sid, auth token and sender are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: settings.AccountSID,
		Password: settings.AuthToken,
	})

	return NewSMSChannelWithAPI(client.Api, settings.From, phones)
}

// NewSMSChannelWithAPI builds a channel over an existing messaging client.
func NewSMSChannelWithAPI(api MessageCreator, from string, phones PhoneResolver) (*SMSChannel, error) {
	if api == nil {
		return nil, errors.New("dispatch: twilio client is required")
	}
	if phones == nil {
		return nil, errors.New("dispatch: phone resolver is required")
	}
	return &SMSChannel{api: api, from: from, phones: phones}, nil
}

// Prepare resolves the phone number of the identity owning the message. An
// owner unknown to the directory has no phone number on file.
func (c *SMSChannel) Prepare(ctx context.Context, msg Message) (Message, error) {
	phone, err := c.phones.PhoneForAddress(ctx, msg.OwnerAddress())
	if errors.Is(err, apperrors.ErrNotFound) {
		return msg, ErrNoPhoneNumber
	}
	if err != nil {
		return msg, fmt.Errorf("dispatch: resolve phone: %w", err)
	}
	msg.Phone = strings.TrimSpace(phone)
	if msg.Phone == "" {
		return msg, ErrNoPhoneNumber
	}
	return msg, nil
}

// Send delivers the code to the phone number resolved by Prepare.
func (c *SMSChannel) Send(_ context.Context, msg Message) error {
	phone := strings.TrimSpace(msg.Phone)
	if phone == "" {
		return ErrNoPhoneNumber
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(phone)
	params.SetBody(Body(msg))

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("dispatch: twilio create message: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	logger.WithModule("dispatch").Debug("sms queued",
		zap.String("purpose", string(msg.Purpose)),
		zap.String("sid", sid),
	)
	return nil
}
