package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/passgate/internal/models"
	"github.com/charlesng35/passgate/pkg/crypto"
	apperrors "github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/metrics"
)

// DefaultSecretBytes is the amount of randomness in the secret half of a token.
const DefaultSecretBytes = 30

const tokenSeparator = "|"

// ErrInvalidToken is returned for malformed, unknown or revoked bearer tokens.
var ErrInvalidToken = apperrors.ErrUnauthorized.WithMessage("Invalid or revoked access token")

// TokenConfig describes tunable behaviour for the TokenManager.
type TokenConfig struct {
	SecretBytes int
	Clock       func() time.Time
}

// TokenMetadata captures contextual information about the client.
type TokenMetadata struct {
	Name      string
	IPAddress string
	UserAgent string
}

// IssuedToken pairs the plaintext bearer token, shown once, with its record.
type IssuedToken struct {
	Token  string
	Record *models.AccessToken
}

// TokenManager issues, resolves and revokes opaque bearer tokens. A token has
// the form "<id>|<secret>"; only the SHA-256 digest of the secret is stored.
type TokenManager struct {
	db          *gorm.DB
	secretBytes int
	now         func() time.Time
}

// NewTokenManager constructs a TokenManager backed by db.
func NewTokenManager(db *gorm.DB, cfg TokenConfig) (*TokenManager, error) {
	if db == nil {
		return nil, errors.New("token manager: db is required")
	}

	size := cfg.SecretBytes
	if size <= 0 {
		size = DefaultSecretBytes
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &TokenManager{db: db, secretBytes: size, now: clock}, nil
}

// WithTx returns a TokenManager that issues every statement on tx.
func (m *TokenManager) WithTx(tx *gorm.DB) *TokenManager {
	cpy := *m
	cpy.db = tx
	return &cpy
}

// Issue revokes every token the identity holds and mints exactly one new token.
// Both steps share a transaction, which becomes a savepoint when m is bound to
// an outer transaction.
func (m *TokenManager) Issue(ctx context.Context, userID string, meta TokenMetadata) (*IssuedToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("token manager: user id is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("token manager: generate id: %w", err)
	}
	secret, err := crypto.GenerateToken(m.secretBytes)
	if err != nil {
		return nil, fmt.Errorf("token manager: generate secret: %w", err)
	}

	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = "access_token"
	}

	record := &models.AccessToken{
		ID:        id,
		UserID:    userID,
		Name:      name,
		TokenHash: crypto.HashToken(secret),
		IPAddress: strings.TrimSpace(meta.IPAddress),
		UserAgent: strings.TrimSpace(meta.UserAgent),
		CreatedAt: m.now(),
	}

	var revoked int64
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent issues for one identity serialise on its row.
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", userID).
			Limit(1).
			Find(&owner).Error; err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}

		var err error
		if revoked, err = m.WithTx(tx).revokeAll(ctx, userID); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: issue: %w", err)
	}

	metrics.ActiveSessions.Sub(float64(revoked))
	metrics.ActiveSessions.Inc()

	return &IssuedToken{Token: id + tokenSeparator + secret, Record: record}, nil
}

// RevokeAll revokes every active token of the identity and reports how many were revoked.
func (m *TokenManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	count, err := m.revokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("token manager: revoke all: %w", err)
	}
	metrics.ActiveSessions.Sub(float64(count))
	return count, nil
}

func (m *TokenManager) revokeAll(ctx context.Context, userID string) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&models.AccessToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", m.now())
	return result.RowsAffected, result.Error
}

// RevokeCurrent revokes the presented token only.
func (m *TokenManager) RevokeCurrent(ctx context.Context, token string) error {
	record, err := m.Resolve(ctx, token)
	if err != nil {
		return err
	}

	result := m.db.WithContext(ctx).
		Model(&models.AccessToken{}).
		Where("id = ? AND revoked_at IS NULL", record.ID).
		Update("revoked_at", m.now())
	if result.Error != nil {
		return fmt.Errorf("token manager: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidToken
	}

	metrics.ActiveSessions.Dec()
	return nil
}

// Resolve validates a bearer token and returns its record with the owning
// identity loaded. The last-used timestamp is refreshed on success.
func (m *TokenManager) Resolve(ctx context.Context, token string) (*models.AccessToken, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), tokenSeparator)
	if !ok || id == "" || secret == "" {
		return nil, ErrInvalidToken
	}

	var record models.AccessToken
	err := m.db.WithContext(ctx).Preload("User").Take(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("token manager: find token: %w", err)
	}

	if !crypto.ConstantTimeEqual(record.TokenHash, crypto.HashToken(secret)) {
		return nil, ErrInvalidToken
	}
	if !record.Active() || record.User == nil {
		return nil, ErrInvalidToken
	}

	now := m.now()
	if err := m.db.WithContext(ctx).
		Model(&models.AccessToken{}).
		Where("id = ?", record.ID).
		Update("last_used_at", now).Error; err != nil {
		return nil, fmt.Errorf("token manager: touch token: %w", err)
	}
	record.LastUsedAt = &now

	return &record, nil
}

// CleanupRevoked deletes revoked tokens.
func (m *TokenManager) CleanupRevoked(ctx context.Context) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL").
		Delete(&models.AccessToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("token manager: cleanup revoked: %w", result.Error)
	}
	return result.RowsAffected, nil
}
