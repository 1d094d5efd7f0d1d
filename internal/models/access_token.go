package models

import "time"

// AccessToken is the server side record of an opaque bearer token. Only the
// SHA-256 digest of the secret part is stored.
type AccessToken struct {
	ID         string     `gorm:"primaryKey;size:32" json:"id"`
	UserID     string     `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User      `gorm:"foreignKey:UserID" json:"-"`
	Name       string     `json:"name"`
	TokenHash  string     `gorm:"not null;size:64" json:"-"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	LastUsedAt *time.Time `json:"last_used_at"`
	RevokedAt  *time.Time `gorm:"index" json:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Active reports whether the token can still authenticate requests.
func (t *AccessToken) Active() bool {
	return t != nil && t.RevokedAt == nil
}
