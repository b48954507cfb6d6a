package mongo

import (
	"context"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type JobRepository interface {
	Create(ctx context.Context, j *models.TrainingJob) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.TrainingJob, error)
	SetStatus(ctx context.Context, jobID, status, errText string) error
	TouchPolled(ctx context.Context, jobID string, polledAt time.Time) error
}

type jobRepo struct {
	col *mongo.Collection
}

func NewJobRepo(db *mongo.Database) JobRepository {
	return &jobRepo{col: db.Collection("training_jobs")}
}

func (r *jobRepo) Create(ctx context.Context, j *models.TrainingJob) error {
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, j)
	return err
}

func (r *jobRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.TrainingJob, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "submitted_at", Value: -1}}).
		SetLimit(limit)
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var jobs []models.TrainingJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// SetStatus records a transition; terminal statuses also stamp
// completed_at.
func (r *jobRepo) SetStatus(ctx context.Context, jobID, status, errText string) error {
	set := bson.M{"status": status}
	if errText != "" {
		set["error"] = errText
	}
	switch status {
	case models.JobStatusRunning:
		set["started_at"] = time.Now().UTC()
	case models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCancelled:
		set["completed_at"] = time.Now().UTC()
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *jobRepo) TouchPolled(ctx context.Context, jobID string, polledAt time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"job_id": jobID},
		bson.M{"$set": bson.M{"last_polled": polledAt.UTC()}},
	)
	return err
}
