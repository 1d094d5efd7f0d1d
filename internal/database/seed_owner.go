package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/crypto"
)

// OwnerSeed describes the initial owner account created on first start.
type OwnerSeed struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// EnsureOwner creates the owner account when no user holds the OWNER role yet.
// It reports whether an account was created.
func EnsureOwner(db *gorm.DB, seed OwnerSeed) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if email == "" || strings.TrimSpace(seed.Username) == "" {
		return false, errors.New("owner seed requires username and email")
	}
	if seed.Password == "" {
		return false, errors.New("owner seed requires a password")
	}

	created := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Table("user_roles").Where("role_id = ?", models.RoleOwner).Count(&owners).Error; err != nil {
			return err
		}
		if owners > 0 {
			return nil
		}

		var role models.Role
		if err := tx.First(&role, "id = ?", models.RoleOwner).Error; err != nil {
			return fmt.Errorf("load owner role: %w", err)
		}

		hash, err := crypto.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("hash owner password: %w", err)
		}

		verifiedAt := time.Now().UTC()
		user := &models.User{
			Username:        strings.TrimSpace(seed.Username),
			Email:           email,
			Password:        hash,
			FirstName:       seed.FirstName,
			LastName:        seed.LastName,
			IsActive:        true,
			EmailVerifiedAt: &verifiedAt,
			Roles:           []models.Role{role},
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}
