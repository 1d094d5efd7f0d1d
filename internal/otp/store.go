package otp

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/passgate/internal/models"
)

// ErrRecordNotFound is returned when no record exists for an (address, purpose) pair.
var ErrRecordNotFound = errors.New("otp: record not found")

// Store persists one-time codes. Every mutation after creation is a
// compare-and-swap keyed on id and state so concurrent callers cannot both win.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store bound to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store that issues every statement on tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Find loads the record for (address, purpose).
func (s *Store) Find(ctx context.Context, address string, purpose models.OTPPurpose) (*models.OneTimeCode, error) {
	var record models.OneTimeCode
	err := s.db.WithContext(ctx).
		Where("address = ? AND purpose = ?", address, purpose).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteFor removes any record for (address, purpose).
func (s *Store) DeleteFor(ctx context.Context, address string, purpose models.OTPPurpose) error {
	return s.db.WithContext(ctx).
		Where("address = ? AND purpose = ?", address, purpose).
		Delete(&models.OneTimeCode{}).Error
}

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, record *models.OneTimeCode) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// Advance moves a record from its current state to the state reached by event,
// applying extra column updates. It reports false when the record was no longer
// in the expected state (or held a different code).
func (s *Store) Advance(ctx context.Context, record *models.OneTimeCode, event Event, updates map[string]interface{}) (bool, error) {
	next, err := Next(record.State, event)
	if err != nil {
		return false, err
	}
	if next == models.OTPStateConsumed {
		return s.consume(ctx, record)
	}

	values := map[string]interface{}{"state": next}
	for column, value := range updates {
		values[column] = value
	}

	result := s.db.WithContext(ctx).
		Model(&models.OneTimeCode{}).
		Where("id = ? AND state = ? AND code = ?", record.ID, record.State, record.Code).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}

	record.State = next
	return true, nil
}

func (s *Store) consume(ctx context.Context, record *models.OneTimeCode) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND state = ? AND code = ?", record.ID, record.State, record.Code).
		Delete(&models.OneTimeCode{})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	record.State = models.OTPStateConsumed
	return true, nil
}

// PurgeExpired deletes records whose expiry is before now. Sentinel records are
// included once their grace window has passed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.OneTimeCode{})
	return result.RowsAffected, result.Error
}
