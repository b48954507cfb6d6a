package postgres

import (
	"context"
	"errors"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/utils"
	"gorm.io/gorm"
)

type ModelRepo interface {
	Insert(ctx context.Context, m *models.CustomModel) error
	GetByName(ctx context.Context, modelName string) (*models.CustomModel, error)
	ListByUser(ctx context.Context, userID string) ([]models.CustomModel, error)
	GetActive(ctx context.Context, userID string) (*models.CustomModel, error)
	HasTraining(ctx context.Context, userID string) (bool, error)
	UpdateStatus(ctx context.Context, modelName, status, errorSummary string) error
	SetJobID(ctx context.Context, modelName, jobID string) error
	ActivateSwap(ctx context.Context, userID, modelName string) error
	Deactivate(ctx context.Context, modelName string) error
	Delete(ctx context.Context, modelName string) error
}

type modelRepo struct {
	db *gorm.DB
}

func NewModelRepo(db *gorm.DB) ModelRepo {
	return &modelRepo{db: db}
}

func (r *modelRepo) Insert(ctx context.Context, m *models.CustomModel) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *modelRepo) GetByName(ctx context.Context, modelName string) (*models.CustomModel, error) {
	var m models.CustomModel
	err := r.db.WithContext(ctx).Where("model_name = ?", modelName).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *modelRepo) ListByUser(ctx context.Context, userID string) ([]models.CustomModel, error) {
	var rows []models.CustomModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *modelRepo) GetActive(ctx context.Context, userID string) (*models.CustomModel, error) {
	var m models.CustomModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *modelRepo) HasTraining(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CustomModel{}).
		Where("user_id = ? AND status = ?", userID, models.ModelStatusTraining).
		Count(&count).Error
	return count > 0, err
}

func (r *modelRepo) UpdateStatus(ctx context.Context, modelName, status, errorSummary string) error {
	res := r.db.WithContext(ctx).
		Model(&models.CustomModel{}).
		Where("model_name = ?", modelName).
		Updates(map[string]any{"status": status, "error_summary": errorSummary})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *modelRepo) SetJobID(ctx context.Context, modelName, jobID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.CustomModel{}).
		Where("model_name = ?", modelName).
		Update("job_id", jobID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

// ActivateSwap deactivates whatever is active for the user and activates
// modelName in one transaction, so no reader ever observes two active
// models.
func (r *modelRepo) ActivateSwap(ctx context.Context, userID, modelName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CustomModel{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&models.CustomModel{}).
			Where("model_name = ? AND user_id = ?", modelName, userID).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrNotFound
		}
		return nil
	})
}

func (r *modelRepo) Deactivate(ctx context.Context, modelName string) error {
	res := r.db.WithContext(ctx).
		Model(&models.CustomModel{}).
		Where("model_name = ?", modelName).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *modelRepo) Delete(ctx context.Context, modelName string) error {
	res := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Delete(&models.CustomModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}
