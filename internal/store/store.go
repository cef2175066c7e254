// Package store is the durable record of granted access entries. The
// address column is the natural key: grant logic guarantees at most one
// row per address at any time.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/knock-portal/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("access entry not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, entry *models.AccessEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("inserting access entry for %s: %w", entry.Address, err)
	}
	return nil
}

func (s *Store) GetByAddress(ctx context.Context, address string) (*models.AccessEntry, error) {
	var entry models.AccessEntry
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access entry for %s: %w", address, err)
	}
	return &entry, nil
}

// DeleteByAddress removes every row for the address and reports how many
// rows were deleted. Zero rows is not an error here; callers decide
// whether that means not-found.
func (s *Store) DeleteByAddress(ctx context.Context, address string) (int64, error) {
	result := s.db.WithContext(ctx).Where("address = ?", address).Delete(&models.AccessEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting access entry for %s: %w", address, result.Error)
	}
	return result.RowsAffected, nil
}

// UpdateExpiration sets the expiration for an address. A nil expiration
// marks the entry as never expiring.
func (s *Store) UpdateExpiration(ctx context.Context, address string, expiration *time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.AccessEntry{}).
		Where("address = ?", address).
		Update("expiration", expiration)
	if result.Error != nil {
		return fmt.Errorf("updating expiration for %s: %w", address, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListByIdentity(ctx context.Context, identity string) ([]models.AccessEntry, error) {
	var entries []models.AccessEntry
	if err := s.db.WithContext(ctx).Where("identity = ?", identity).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing access entries for %s: %w", identity, err)
	}
	return entries, nil
}

func (s *Store) ListAll(ctx context.Context) ([]models.AccessEntry, error) {
	var entries []models.AccessEntry
	if err := s.db.WithContext(ctx).Order("expiration").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing access entries: %w", err)
	}
	return entries, nil
}

// FindExpired returns entries whose expiration has passed. Forever
// entries (nil expiration) are never selected.
func (s *Store) FindExpired(ctx context.Context, now time.Time) ([]models.AccessEntry, error) {
	var entries []models.AccessEntry
	err := s.db.WithContext(ctx).
		Where("expiration IS NOT NULL AND expiration < ?", now).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("querying expired entries: %w", err)
	}
	return entries, nil
}
