package models

import "time"

// OTPPurpose names the flow a one-time code belongs to. The values are the wire
// names accepted by the API.
type OTPPurpose string

const (
	PurposeVerifyEmail         OTPPurpose = "VERIFY_EMAIL_OTP"
	PurposeResetPassword       OTPPurpose = "RESET_PASSWORD_OTP"
	PurposeResetEmail          OTPPurpose = "RESET_EMAIL_OTP"
	PurposeAuthenticationTwoFA OTPPurpose = "VERIFY_2FA_AUTHENTICATION_OTP"
	PurposeAuthorizationTwoFA  OTPPurpose = "VERIFY_2FA_AUTHORIZATION_OTP"
)

// OTPState is the lifecycle state of a stored one-time code.
type OTPState string

const (
	// OTPStatePending records are created inside the issuance transaction and
	// never become visible to other transactions in this state.
	OTPStatePending  OTPState = "pending"
	OTPStateIssued   OTPState = "issued"
	OTPStateSentinel OTPState = "sentinel_verified"
	// OTPStateConsumed is never persisted; consumed records are deleted.
	OTPStateConsumed OTPState = "consumed"
)

// OneTimeCode is the single live code for an (address, purpose) pair.
type OneTimeCode struct {
	BaseModel

	Address   string     `gorm:"not null;uniqueIndex:idx_otp_address_purpose;size:255" json:"address"`
	Purpose   OTPPurpose `gorm:"not null;uniqueIndex:idx_otp_address_purpose;size:64" json:"purpose"`
	Code      string     `gorm:"not null;size:16" json:"-"`
	State     OTPState   `gorm:"not null;size:32;index" json:"state"`
	Verified  bool       `gorm:"default:false" json:"verified"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
}

// Live reports whether the record has not yet reached its expiry. A record
// whose expiry equals now is already expired.
func (c *OneTimeCode) Live(now time.Time) bool {
	return c != nil && c.ExpiresAt.After(now)
}
