package postgres

import (
	"context"

	"github.com/minatori/partnerai/internal/models"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScoredMemory is a retrieval candidate: the indexed entry plus its cosine
// distance to the query (0 identical, 2 opposite).
type ScoredMemory struct {
	models.MemoryEntry
	Distance float64 `gorm:"column:distance" json:"distance"`
}

type MemoryRepo interface {
	Upsert(ctx context.Context, entry *models.MemoryEntry) error
	Search(ctx context.Context, userID string, query pgvector.Vector, limit int) ([]ScoredMemory, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

type memoryRepo struct {
	db *gorm.DB
}

func NewMemoryRepo(db *gorm.DB) MemoryRepo {
	return &memoryRepo{db: db}
}

// Upsert writes the entry in one statement keyed on conversation_id, so a
// re-index replaces the row instead of duplicating it and concurrent
// readers only ever see a complete entry.
func (r *memoryRepo) Upsert(ctx context.Context, entry *models.MemoryEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "embedding", "timestamp"}),
		}).
		Create(entry).Error
}

func (r *memoryRepo) Search(ctx context.Context, userID string, query pgvector.Vector, limit int) ([]ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []ScoredMemory
	err := r.db.WithContext(ctx).
		Model(&models.MemoryEntry{}).
		Select("*, (embedding <=> ?) AS distance", query).
		Where("user_id = ?", userID).
		Order("distance ASC, timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *memoryRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MemoryEntry{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
