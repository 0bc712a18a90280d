package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

// Repository persists audit entries. Entries are never updated or deleted.
type Repository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.AuditLog, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.AuditLog, int64, error) {
	params = params.Normalize()
	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if depositID != nil {
		query = query.Where("deposit_id = ?", *depositID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if int64(params.Offset) >= total {
		return []models.AuditLog{}, total, nil
	}

	var entries []models.AuditLog
	if err := query.
		Order("timestamp DESC, id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// MemoryRepository keeps audit entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, depositID *uuid.UUID, params pagination.Params) ([]models.AuditLog, int64, error) {
	r.mu.RLock()
	matched := make([]models.AuditLog, 0, len(r.entries))
	// walk backwards so equal timestamps keep newest-inserted first
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if depositID != nil && entry.DepositID != *depositID {
			continue
		}
		matched = append(matched, entry)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	start, end := params.Window(len(matched))
	return matched[start:end], int64(len(matched)), nil
}
