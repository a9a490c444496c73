package fingerprint

import (
	"context"
	"errors"
	"time"

	"github.com/checkeligibility/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheEntry memoises a resolved outcome by request fingerprint. Entries are shared
// across checks and batches and outlive both.
type CacheEntry struct {
	Hash       string             `gorm:"primaryKey;column:hash;size:64"`
	Type       models.CheckType   `gorm:"column:type;size:32;not null"`
	Status     models.CheckStatus `gorm:"column:status;size:32;not null"`
	Outcome    datatypes.JSONMap  `gorm:"column:outcome"`
	ResolvedAt time.Time          `gorm:"column:resolved_at;not null;index"`
}

func (CacheEntry) TableName() string {
	return "check_fingerprints"
}

type Cache struct {
	db      *gorm.DB
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewCache builds the cache; ttl <= 0 keeps entries fresh forever.
func NewCache(db *gorm.DB, ttl time.Duration) *Cache {
	return &Cache{db: db, ttl: ttl, nowFunc: time.Now}
}

func (c *Cache) AutoMigrate() error {
	return c.db.AutoMigrate(&CacheEntry{})
}

// Lookup returns a fresh entry for hash, or ok=false when absent or expired.
func (c *Cache) Lookup(ctx context.Context, hash string) (*CacheEntry, bool, error) {
	var entry CacheEntry
	result := c.db.WithContext(ctx).First(&entry, "hash = ?", hash)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if result.Error != nil {
		return nil, false, result.Error
	}
	if c.expired(entry.ResolvedAt) {
		return &entry, false, nil
	}
	return &entry, true, nil
}

// Store inserts the entry, treating a concurrent insert of the same hash as already cached.
// An expired row is refreshed in place so the hash keeps exactly one entry.
func (c *Cache) Store(ctx context.Context, entry *CacheEntry) (bool, error) {
	if entry.ResolvedAt.IsZero() {
		entry.ResolvedAt = c.now()
	}

	result := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	if c.ttl <= 0 {
		return false, nil
	}
	refresh := c.db.WithContext(ctx).Model(&CacheEntry{}).
		Where("hash = ? AND resolved_at < ?", entry.Hash, c.now().Add(-c.ttl)).
		Updates(map[string]interface{}{
			"status":      entry.Status,
			"outcome":     entry.Outcome,
			"resolved_at": entry.ResolvedAt,
		})
	return refresh.RowsAffected == 1, refresh.Error
}

func (c *Cache) Count(ctx context.Context, hash string) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&CacheEntry{}).Where("hash = ?", hash).Count(&n).Error
	return n, err
}

func (c *Cache) expired(resolvedAt time.Time) bool {
	return c.ttl > 0 && resolvedAt.Before(c.now().Add(-c.ttl))
}

func (c *Cache) now() time.Time {
	return c.nowFunc().UTC().Truncate(time.Microsecond)
}
