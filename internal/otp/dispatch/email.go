package dispatch

import (
	"context"
	"errors"

	"github.com/charlesng35/passgate/pkg/mail"
)

// EmailChannel delivers codes over SMTP.
type EmailChannel struct {
	mailer mail.Mailer
}

// NewEmailChannel wraps mailer.
func NewEmailChannel(mailer mail.Mailer) (*EmailChannel, error) {
	if mailer == nil {
		return nil, errors.New("dispatch: mailer is required")
	}
	return &EmailChannel{mailer: mailer}, nil
}

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	return c.mailer.Send(ctx, mail.Message{
		To:      []string{msg.Address},
		Subject: Subject(msg.Purpose),
		Body:    Body(msg),
	})
}
