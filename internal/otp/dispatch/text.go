package dispatch

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/charlesng35/passgate/internal/models"
)

var purposeLabels = map[models.OTPPurpose]string{
	models.PurposeVerifyEmail:         "email verification",
	models.PurposeResetPassword:       "password reset",
	models.PurposeResetEmail:          "email change",
	models.PurposeAuthenticationTwoFA: "sign-in verification",
	models.PurposeAuthorizationTwoFA:  "action authorization",
}

var titleCaser = cases.Title(language.English)

// purposeLabel returns a lower-case human label for purpose.
func purposeLabel(purpose models.OTPPurpose) string {
	if label, ok := purposeLabels[purpose]; ok {
		return label
	}
	p := strings.TrimSuffix(string(purpose), "_OTP")
	return strings.ToLower(strings.ReplaceAll(p, "_", " "))
}

// Subject renders the message subject, e.g. "Password Reset Code".
func Subject(purpose models.OTPPurpose) string {
	return titleCaser.String(purposeLabel(purpose)) + " Code"
}

// Body renders the plain text message body.
func Body(msg Message) string {
	return fmt.Sprintf(
		"Your %s code is %s. It expires in %s. If you did not request this code, you can ignore this message.",
		purposeLabel(msg.Purpose), msg.Code, humanDuration(msg.ExpiresIn),
	)
}

func humanDuration(d time.Duration) string {
	minutes := int(math.Ceil(d.Minutes()))
	switch {
	case d <= 0:
		return "a few minutes"
	case minutes <= 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
