package models

import (
	"fmt"
	"strings"
	"time"
)

// CustomModel lifecycle: training -> ready | failed. is_active may only
// toggle while status is ready; deletion is allowed from any status except
// training (the job must be cancelled or terminal first).
const (
	ModelStatusTraining = "training"
	ModelStatusReady    = "ready"
	ModelStatusFailed   = "failed"
)

// CustomModel is one per-user fine-tuned model in the registry. At most
// one row per user has IsActive=true at any instant.
type CustomModel struct {
	ModelName    string    `gorm:"column:model_name;type:text;primaryKey" json:"model_name"`
	UserID       string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	BaseModel    string    `gorm:"column:base_model;type:text" json:"base_model"`
	TrainingSize int       `gorm:"column:training_size" json:"training_size"`
	Status       string    `gorm:"column:status;type:text" json:"status"`
	ErrorSummary string    `gorm:"column:error_summary;type:text" json:"error_summary,omitempty"`
	IsActive     bool      `gorm:"column:is_active" json:"is_active"`
	JobID        string    `gorm:"column:job_id;type:text" json:"job_id,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (CustomModel) TableName() string { return "custom_models" }

// CustomModelName derives a collision-free model name from the user, the
// base model, and the creation time.
func CustomModelName(userID, baseModel string, createdAt time.Time) string {
	user := userID
	if len(user) > 8 {
		user = user[:8]
	}
	slug := strings.NewReplacer(":", "-", "/", "-", ".", "-").Replace(baseModel)
	return fmt.Sprintf("%s-%s-%d", user, slug, createdAt.Unix())
}
