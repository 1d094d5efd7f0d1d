package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the identity record the verification flows act on. Users are never
// physically deleted by the core; IsActive gates sign-in instead.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"user_name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	OtherName string `json:"other_name"`
	PhoneNo   string `json:"phone_no"`
	Avatar    string `json:"avatar"`

	IsActive         bool       `gorm:"default:true" json:"is_active"`
	TwoFactorEnabled bool       `gorm:"column:is_2fa_enabled;default:false" json:"is_2fa_enabled"`
	EmailVerifiedAt  *time.Time `json:"email_verified_at"`

	Roles []Role `gorm:"many2many:user_roles;" json:"roles,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsEmailVerified reports whether the address on file has been confirmed.
func (u *User) IsEmailVerified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}
