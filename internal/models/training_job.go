package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TrainingJob is the backend-side job document for one fine-tune run.
// The Postgres CustomModel row is the registry view; this document keeps
// the raw job trail (submission, polls, terminal state, error).
type TrainingJob struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	JobID string             `bson:"job_id" json:"job_id"` // uuid v4

	UserID    string `bson:"user_id" json:"user_id"`
	ModelName string `bson:"model_name" json:"model_name"`
	BaseModel string `bson:"base_model" json:"base_model"`

	DatasetSize int    `bson:"dataset_size" json:"dataset_size"`
	Status      string `bson:"status" json:"status"`
	Error       string `bson:"error,omitempty" json:"error,omitempty"`

	SubmittedAt time.Time  `bson:"submitted_at" json:"submitted_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	LastPolled  *time.Time `bson:"last_polled,omitempty" json:"last_polled,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (j *TrainingJob) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
