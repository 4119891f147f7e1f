package registry

import (
	"context"
	"fmt"

	"github.com/lgulliver/rvcstore/internal/common"
	"github.com/lgulliver/rvcstore/pkg/types"
)

// DefaultHistoryLimit caps history queries that do not ask for a limit
const DefaultHistoryLimit = 50

// HistoryRepository persists acquisition records
type HistoryRepository interface {
	Record(ctx context.Context, record *types.Acquisition) error
	List(ctx context.Context, name string, limit int) ([]types.Acquisition, error)
}

// GormHistory stores acquisition records in the service database
type GormHistory struct {
	db *common.Database
}

// NewGormHistory creates a history repository backed by db
func NewGormHistory(db *common.Database) *GormHistory {
	return &GormHistory{db: db}
}

// Record inserts one acquisition record
func (h *GormHistory) Record(ctx context.Context, record *types.Acquisition) error {
	if err := h.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save acquisition record: %w", err)
	}
	return nil
}

// List returns the records for name, newest first
func (h *GormHistory) List(ctx context.Context, name string, limit int) ([]types.Acquisition, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var records []types.Acquisition
	if err := h.db.WithContext(ctx).
		Where("model_name = ?", name).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list acquisition records: %w", err)
	}
	return records, nil
}

// NoopHistory is used when no database is configured
type NoopHistory struct{}

func (NoopHistory) Record(context.Context, *types.Acquisition) error { return nil }

func (NoopHistory) List(context.Context, string, int) ([]types.Acquisition, error) {
	return []types.Acquisition{}, nil
}
