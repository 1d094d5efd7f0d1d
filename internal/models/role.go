package models

// Built-in role identifiers.
const (
	RoleOwner = "OWNER"
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type Role struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	Users       []User       `gorm:"many2many:user_roles;" json:"users,omitempty"`
}

// IsPrivilegedRole reports whether the role grants access to admin sign-in.
func IsPrivilegedRole(id string) bool {
	return id == RoleOwner || id == RoleAdmin
}
