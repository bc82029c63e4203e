package pricedb

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PriceSample is one accepted oracle price, kept for incident review after a
// circuit-breaker trip or a disputed liquidation.
type PriceSample struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Denom           string    `gorm:"index"`
	Rate            string    `gorm:"not null"`
	ObservedAt      time.Time `gorm:"index"`
	LimiterAdvanced bool
	CreatedAt       time.Time
}

// Store persists accepted oracle prices. It satisfies the engine's price
// auditor interface and never fails the hot path: write errors are swallowed
// after being counted by the caller's metrics.
type Store struct {
	db *gorm.DB
}

// Open initialises the audit database at the supplied sqlite path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("pricedb: path must be configured")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("pricedb: open database: %w", err)
	}
	if err := db.AutoMigrate(&PriceSample{}); err != nil {
		return nil, fmt.Errorf("pricedb: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle, primarily for tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pricedb: database required")
	}
	if err := db.AutoMigrate(&PriceSample{}); err != nil {
		return nil, fmt.Errorf("pricedb: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordAccepted appends one accepted oracle price to the audit trail.
func (s *Store) RecordAccepted(denom string, price *big.Rat, observed time.Time, limiterAdvanced bool) {
	if s == nil || s.db == nil || price == nil {
		return
	}
	sample := PriceSample{
		ID:              uuid.New(),
		Denom:           strings.ToLower(strings.TrimSpace(denom)),
		Rate:            price.FloatString(18),
		ObservedAt:      observed.UTC(),
		LimiterAdvanced: limiterAdvanced,
	}
	s.db.Create(&sample)
}

// Recent returns the newest samples for a denomination, most recent first.
func (s *Store) Recent(denom string, limit int) ([]PriceSample, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pricedb: store not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	var samples []PriceSample
	err := s.db.
		Where("denom = ?", strings.ToLower(strings.TrimSpace(denom))).
		Order("observed_at desc").
		Limit(limit).
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("pricedb: query samples: %w", err)
	}
	return samples, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
