package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.OneTimeCode{},
		&models.AccessToken{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

type permissionSeed struct {
	ID          string
	Module      string
	Description string
}

var permissionSeeds = []permissionSeed{
	{"ACCESS_USER", "account", "Access the user area"},
	{"ACCESS_ADMIN_PANEL", "admin", "Access the admin panel"},
	{"VIEW_USERS", "users", "View users"},
	{"EDIT_USERS", "users", "Edit users"},
	{"DELETE_USERS", "users", "Delete users"},
	{"VIEW_ROLES", "roles", "View roles"},
	{"EDIT_ROLES", "roles", "Edit roles"},
	{"VIEW_PERMISSION", "permissions", "View permissions"},
	{"EDIT_PERMISSION", "permissions", "Edit permissions"},
	{"VIEW_SETTINGS", "settings", "View settings"},
	{"EDIT_SETTINGS", "settings", "Edit settings"},
	{"DELETE_SETTINGS", "settings", "Delete settings"},
	{"VIEW_LOGS", "logs", "View logs"},
	{"DELETE_LOGS", "logs", "Delete logs"},
}

// rolePermissionSeeds lists the permissions attached to each built-in role. A
// nil slice grants every seeded permission.
var rolePermissionSeeds = map[string][]string{
	models.RoleOwner: nil,
	models.RoleAdmin: {
		"ACCESS_ADMIN_PANEL",
		"VIEW_USERS",
		"VIEW_ROLES",
		"EDIT_ROLES",
		"VIEW_PERMISSION",
		"EDIT_PERMISSION",
		"VIEW_SETTINGS",
		"EDIT_SETTINGS",
		"VIEW_LOGS",
	},
	models.RoleUser: {"ACCESS_USER"},
}

// SeedData populates the built-in roles and permissions.
func SeedData(db *gorm.DB) error {
	allPermissions := make([]string, 0, len(permissionSeeds))
	for _, seed := range permissionSeeds {
		perm := models.Permission{
			ID:          seed.ID,
			Module:      seed.Module,
			Description: seed.Description,
		}
		if err := db.Where(models.Permission{ID: perm.ID}).Attrs(perm).FirstOrCreate(&models.Permission{}).Error; err != nil {
			return err
		}
		allPermissions = append(allPermissions, seed.ID)
	}

	roles := []models.Role{
		{ID: models.RoleOwner, Name: "Owner", Description: "Full system access", IsSystem: true},
		{ID: models.RoleAdmin, Name: "Administrator", Description: "Administrative access", IsSystem: true},
		{ID: models.RoleUser, Name: "User", Description: "Standard user access", IsSystem: true},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{ID: role.ID}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}

		grants := rolePermissionSeeds[role.ID]
		if grants == nil {
			grants = allPermissions
		}
		if err := assignRolePermissions(db, role.ID, grants); err != nil {
			return err
		}
	}

	return nil
}
