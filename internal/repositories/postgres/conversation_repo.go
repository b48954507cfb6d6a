package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/utils"
	"gorm.io/gorm"
)

type ConversationStats struct {
	TotalConversations int64   `json:"total_conversations"`
	AverageRating      float64 `json:"average_rating"`
	MostUsedModel      string  `json:"most_used_model"`
}

type ConversationRepo interface {
	Insert(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	LatestN(ctx context.Context, userID string, n int) ([]models.Conversation, error)
	ListSince(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error)
	ListRated(ctx context.Context, userID string, minRating, limit int) ([]models.Conversation, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	UpdateRating(ctx context.Context, id string, rating int, comment string) error
	UpdateTags(ctx context.Context, id string, tags []string) error
	Stats(ctx context.Context, userID string) (*ConversationStats, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *conversationRepo) LatestN(ctx context.Context, userID string, n int) ([]models.Conversation, error) {
	if n <= 0 {
		n = 50
	}
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&rows).Error
	return rows, err
}

// ListSince returns the user's turns strictly after since, oldest first,
// for incremental profile learning.
func (r *conversationRepo) ListSince(ctx context.Context, userID string, since time.Time) ([]models.Conversation, error) {
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp > ?", userID, since).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}

// ListRated returns the user's turns rated at or above minRating, most
// recent first.
func (r *conversationRepo) ListRated(ctx context.Context, userID string, minRating, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND rating >= ?", userID, minRating).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *conversationRepo) UpdateRating(ctx context.Context, id string, rating int, comment string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"rating": rating, "comment": comment})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("tags", pq.StringArray(tags))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) Stats(ctx context.Context, userID string) (*ConversationStats, error) {
	stats := &ConversationStats{}

	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalConversations).Error
	if err != nil {
		return nil, err
	}

	var avg *float64
	err = r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("user_id = ? AND rating IS NOT NULL", userID).
		Select("AVG(rating)").
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AverageRating = *avg
	}

	var top struct{ ModelUsed string }
	err = r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("user_id = ?", userID).
		Select("model_used").
		Group("model_used").
		Order("COUNT(*) DESC").
		Limit(1).
		Scan(&top).Error
	if err != nil {
		return nil, err
	}
	stats.MostUsedModel = top.ModelUsed

	return stats, nil
}
