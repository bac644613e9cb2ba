package storage

import (
	"context"
	"custody-node/internal/config"
	"custody-node/internal/logger"
	"custody-node/internal/storage/models"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRecordNotFound is returned when no key record matches.
var ErrRecordNotFound = errors.New("key record not found")

// Repository reads and writes sealed key records.
type Repository struct {
	db *gorm.DB
}

// InitDB opens the database connection and migrates the key record schema.
func InitDB(cfg config.DBConfig) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode, cfg.TimeZone)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Log.Info("Database connection successfully established.")

	// Auto-migrate the schema
	if err := db.AutoMigrate(&models.Keychain{}, &models.KeyRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}
	logger.Log.Info("Database schema migrated.")
	return NewRepository(db), nil
}

// NewRepository wraps an open connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveKeyRecord stores the sealed share of role under commonKeychain,
// creating the keychain row on first use. An existing record for the same
// role is overwritten.
func (r *Repository) SaveKeyRecord(ctx context.Context, commonKeychain, role string, ciphertext, dataKeyReference []byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keychain := models.Keychain{KeyID: uuid.New(), CommonKeychain: commonKeychain}
		err := tx.Where(models.Keychain{CommonKeychain: commonKeychain}).FirstOrCreate(&keychain).Error
		if err != nil {
			return fmt.Errorf("save keychain: %w", err)
		}

		record := models.KeyRecord{
			KeychainID:       keychain.KeyID,
			Role:             role,
			Ciphertext:       ciphertext,
			DataKeyReference: dataKeyReference,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "keychain_id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "data_key_reference", "updated_at"}),
		}).Create(&record).Error
		if err != nil {
			return fmt.Errorf("save key record: %w", err)
		}
		return nil
	})
}

// FindKeyRecord loads the sealed share of role under commonKeychain.
func (r *Repository) FindKeyRecord(ctx context.Context, commonKeychain, role string) (*models.KeyRecord, error) {
	var record models.KeyRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN keychains ON keychains.key_id = key_records.keychain_id").
		Where("keychains.common_keychain = ? AND key_records.role = ?", commonKeychain, role).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find key record: %w", err)
	}
	return &record, nil
}
