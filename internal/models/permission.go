package models

type Permission struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Module      string `gorm:"not null;index" json:"module"`
	Description string `json:"description"`

	Roles []Role `gorm:"many2many:role_permissions;" json:"roles,omitempty"`
}
