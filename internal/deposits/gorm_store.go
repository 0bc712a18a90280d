package deposits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/safetransit/pkg/db"
	"github.com/angelmondragon/safetransit/pkg/db/models"
)

// GormStore persists deposits through GORM with optimistic versioning.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store bound to the provided database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// WithTx returns a store scoped to the given transaction.
func (s *GormStore) WithTx(tx *gorm.DB) *GormStore {
	if tx == nil {
		return s
	}
	return &GormStore{db: tx}
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	var d models.Deposit
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *GormStore) Put(ctx context.Context, d *models.Deposit) error {
	if d.Version == 0 {
		d.Version = 1
		if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
			d.Version = 0
			if db.IsUniqueViolation(err, "") {
				return ErrVersionConflict
			}
			return err
		}
		return nil
	}

	expected := d.Version
	next := d.Clone()
	next.Version = expected + 1
	result := s.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("id = ? AND version = ?", d.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Deposit{}).Where("id = ?", d.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	d.Version = next.Version
	return nil
}

func (s *GormStore) ScanAll(ctx context.Context) ([]models.Deposit, error) {
	var out []models.Deposit
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
