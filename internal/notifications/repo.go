package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

// Repository exposes persistence helpers for notification records. Archived
// records are excluded from History and List.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.NotificationRecord) error
	Finalize(ctx context.Context, record *models.NotificationRecord) error
	History(ctx context.Context, depositID uuid.UUID) ([]models.NotificationRecord, error)
	List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.NotificationRecord, int64, error)
	HasSentSince(ctx context.Context, depositID uuid.UUID, kind enums.NotificationType, since time.Time) (bool, error)
	Archive(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, record *models.NotificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) Finalize(ctx context.Context, record *models.NotificationRecord) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"status": record.Status,
			"error":  record.Error,
		}).Error
}

func (r *repositoryImpl) History(ctx context.Context, depositID uuid.UUID) ([]models.NotificationRecord, error) {
	var records []models.NotificationRecord
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ? AND archived_at IS NULL", depositID).
		Order("timestamp DESC, id DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.NotificationRecord, int64, error) {
	params = params.Normalize()
	query := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).Where("archived_at IS NULL")
	if depositID != nil {
		query = query.Where("deposit_id = ?", *depositID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if int64(params.Offset) >= total {
		return []models.NotificationRecord{}, total, nil
	}

	var records []models.NotificationRecord
	if err := query.Order("timestamp DESC, id DESC").Limit(params.Limit).Offset(params.Offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *repositoryImpl) HasSentSince(ctx context.Context, depositID uuid.UUID, kind enums.NotificationType, since time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("deposit_id = ? AND type = ? AND status = ? AND timestamp >= ?", depositID, kind, enums.NotificationStatusSent, since).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repositoryImpl) Archive(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("timestamp < ? AND archived_at IS NULL", cutoff).
		UpdateColumn("archived_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MemoryRepository keeps notification records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*models.NotificationRecord
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) WithTx(tx *gorm.DB) Repository {
	return r
}

func (r *MemoryRepository) Create(ctx context.Context, record *models.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *record
	r.records = append(r.records, &stored)
	return nil
}

func (r *MemoryRepository) Finalize(ctx context.Context, record *models.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.records {
		if stored.ID == record.ID {
			stored.Status = record.Status
			stored.Error = record.Error
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *MemoryRepository) History(ctx context.Context, depositID uuid.UUID) ([]models.NotificationRecord, error) {
	return r.visible(&depositID), nil
}

func (r *MemoryRepository) List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.NotificationRecord, int64, error) {
	matched := r.visible(depositID)
	start, end := params.Window(len(matched))
	return matched[start:end], int64(len(matched)), nil
}

func (r *MemoryRepository) HasSentSince(ctx context.Context, depositID uuid.UUID, kind enums.NotificationType, since time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.DepositID == depositID && rec.Type == kind && rec.Status == enums.NotificationStatusSent && !rec.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Archive(ctx context.Context, cutoff, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var archived int64
	for _, rec := range r.records {
		if rec.ArchivedAt == nil && rec.Timestamp.Before(cutoff) {
			at := now
			rec.ArchivedAt = &at
			archived++
		}
	}
	return archived, nil
}

func (r *MemoryRepository) visible(depositID *uuid.UUID) []models.NotificationRecord {
	r.mu.RLock()
	out := make([]models.NotificationRecord, 0, len(r.records))
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.ArchivedAt != nil {
			continue
		}
		if depositID != nil && rec.DepositID != *depositID {
			continue
		}
		out = append(out, *rec)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
