// Package directory stores and resolves the identities one-time codes are issued for.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/database"
	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/crypto"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested identity does not exist.
	ErrUserNotFound = apperrors.ErrNotFound.WithMessage("User not found")
	// ErrEmailTaken is returned when an address already belongs to another identity.
	ErrEmailTaken = apperrors.ErrConflict.WithMessage("An account with this email already exists")
	// ErrUsernameTaken is returned when a username already belongs to another identity.
	ErrUsernameTaken = apperrors.ErrConflict.WithMessage("An account with this username already exists")
)

// NewUser describes the fields accepted at registration.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	OtherName string
	PhoneNo   string
	Roles     []string
}

// Access lists the role and permission identifiers an identity holds.
type Access struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Privileged reports whether the identity holds OWNER or ADMIN.
func (a Access) Privileged() bool {
	for _, role := range a.Roles {
		if models.IsPrivilegedRole(role) {
			return true
		}
	}
	return false
}

// Directory is the gorm backed identity store.
type Directory struct {
	db *gorm.DB
}

// New constructs a Directory.
func New(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}
	return &Directory{db: db}, nil
}

// WithTx returns a Directory that issues every statement on tx.
func (d *Directory) WithTx(tx *gorm.DB) *Directory {
	return &Directory{db: tx}
}

// FindByEmail loads the identity owning email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find by email: %w", err)
	}
	return &user, nil
}

// FindByID loads an identity by identifier.
func (d *Directory) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find by id: %w", err)
	}
	return &user, nil
}

// EmailTaken reports whether email belongs to any identity.
func (d *Directory) EmailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", normalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("directory: check email: %w", err)
	}
	return count > 0, nil
}

// Create provisions a new identity with a hashed password and its roles. The
// USER role is assigned when none are requested.
func (d *Directory) Create(ctx context.Context, input NewUser) (*models.User, error) {
	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)
	if username == "" {
		return nil, apperrors.NewValidation("user_name is required")
	}
	if email == "" {
		return nil, apperrors.NewValidation("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewValidation("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("directory: hash password: %w", err)
	}

	roleIDs := input.Roles
	if len(roleIDs) == 0 {
		roleIDs = []string{models.RoleUser}
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		OtherName: strings.TrimSpace(input.OtherName),
		PhoneNo:   strings.TrimSpace(input.PhoneNo),
		IsActive:  true,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var roles []models.Role
		if err := tx.Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
			return fmt.Errorf("load roles: %w", err)
		}
		if len(roles) != len(roleIDs) {
			return fmt.Errorf("roles missing: expected %d, found %d", len(roleIDs), len(roles))
		}

		user.Roles = roles
		return tx.Omit("Roles.*").Create(user).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, d.conflictFor(ctx, username, email)
		}
		return nil, fmt.Errorf("directory: create user: %w", err)
	}

	return user, nil
}

// MarkEmailVerified stamps the verification time unless it is already set.
func (d *Directory) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	err := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND email_verified_at IS NULL", id).
		Update("email_verified_at", at).Error
	if err != nil {
		return fmt.Errorf("directory: mark email verified: %w", err)
	}
	return nil
}

// UpdateEmail moves the identity to a new address. The new address is treated
// as verified since the caller proved control of it.
func (d *Directory) UpdateEmail(ctx context.Context, id, email string, verifiedAt time.Time) error {
	result := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"email":             normalizeEmail(email),
			"email_verified_at": verifiedAt,
		})
	if result.Error != nil {
		if database.IsUniqueViolation(result.Error) {
			return ErrEmailTaken
		}
		return fmt.Errorf("directory: update email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash.
func (d *Directory) UpdatePassword(ctx context.Context, id, password string) error {
	if strings.TrimSpace(password) == "" {
		return apperrors.NewValidation("password is required")
	}
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("directory: hash password: %w", err)
	}

	result := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("password", hashed)
	if result.Error != nil {
		return fmt.Errorf("directory: update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetTwoFactor toggles the second factor requirement.
func (d *Directory) SetTwoFactor(ctx context.Context, id string, enabled bool) error {
	result := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("is_2fa_enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("directory: set two factor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLogin stores the last successful sign-in.
func (d *Directory) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	err := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"last_login_ip": ip,
		}).Error
	if err != nil {
		return fmt.Errorf("directory: record login: %w", err)
	}
	return nil
}

// AccessFor lists the roles and the union of their permissions.
func (d *Directory) AccessFor(ctx context.Context, id string) (Access, error) {
	var roles []models.Role
	err := d.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", id).
		Preload("Permissions").
		Find(&roles).Error
	if err != nil {
		return Access{}, fmt.Errorf("directory: load roles: %w", err)
	}

	access := Access{Roles: []string{}, Permissions: []string{}}
	seen := make(map[string]struct{})
	for _, role := range roles {
		access.Roles = append(access.Roles, role.ID)
		for _, perm := range role.Permissions {
			if _, ok := seen[perm.ID]; ok {
				continue
			}
			seen[perm.ID] = struct{}{}
			access.Permissions = append(access.Permissions, perm.ID)
		}
	}
	sort.Strings(access.Roles)
	sort.Strings(access.Permissions)
	return access, nil
}

// PhoneForAddress returns the phone number on file for the identity owning address.
func (d *Directory) PhoneForAddress(ctx context.Context, address string) (string, error) {
	user, err := d.FindByEmail(ctx, address)
	if err != nil {
		return "", err
	}
	return user.PhoneNo, nil
}

func (d *Directory) conflictFor(ctx context.Context, username, email string) error {
	taken, err := d.EmailTaken(ctx, email)
	if err == nil && taken {
		return ErrEmailTaken
	}
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err == nil && count > 0 {
		return ErrUsernameTaken
	}
	return apperrors.ErrConflict
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
