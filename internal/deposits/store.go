package deposits

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/db/models"
)

var (
	// ErrNotFound is returned by stores for unknown deposit ids.
	ErrNotFound = errors.New("deposit not found")
	// ErrVersionConflict signals that the record changed since it was read.
	ErrVersionConflict = errors.New("deposit version conflict")
)

// Store is the keyed record store behind the deposit lifecycle. Put performs a
// compare-and-swap on Version: a zero version inserts, otherwise the stored
// version must match. On success the deposit carries its new version.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	Put(ctx context.Context, d *models.Deposit) error
	ScanAll(ctx context.Context) ([]models.Deposit, error)
}

// MemoryStore is a volatile Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.Deposit
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*models.Deposit)}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, d *models.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[d.ID]
	switch {
	case d.Version == 0:
		if ok {
			return ErrVersionConflict
		}
	case !ok:
		return ErrNotFound
	case current.Version != d.Version:
		return ErrVersionConflict
	}
	d.Version++
	s.records[d.ID] = d.Clone()
	return nil
}

// ScanAll returns every record ordered by creation time.
func (s *MemoryStore) ScanAll(ctx context.Context) ([]models.Deposit, error) {
	s.mu.RLock()
	out := make([]models.Deposit, 0, len(s.records))
	for _, d := range s.records {
		out = append(out, *d.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
