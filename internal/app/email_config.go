package app

import (
	"strings"

	"github.com/charlesng35/passgate/internal/otp/dispatch"
	"github.com/charlesng35/passgate/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		FromName: c.SMTP.FromName,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// TwilioSettings converts SMSConfig into the dispatch channel representation.
func (c SMSConfig) TwilioSettings() dispatch.TwilioSettings {
	return dispatch.TwilioSettings{
		AccountSID: strings.TrimSpace(c.Twilio.AccountSID),
		AuthToken:  c.Twilio.AuthToken,
		From:       strings.TrimSpace(c.Twilio.From),
	}
}
