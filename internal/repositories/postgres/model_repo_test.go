package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CustomModel{}))
	return db
}

func seedModel(t *testing.T, repo ModelRepo, name, userID, status string, offset time.Duration) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &models.CustomModel{
		ModelName: name,
		UserID:    userID,
		BaseModel: "gemma3:4b",
		Status:    status,
		CreatedAt: time.Now().UTC().Add(offset),
	}))
}

func TestModelRepoRoundTrip(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "m1", "u1", models.ModelStatusTraining, 0)

	got, err := repo.GetByName(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, models.ModelStatusTraining, got.Status)

	_, err = repo.GetByName(ctx, "missing")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestModelRepoListByUserNewestFirst(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "old", "u1", models.ModelStatusReady, -2*time.Hour)
	seedModel(t, repo, "new", "u1", models.ModelStatusReady, -time.Hour)
	seedModel(t, repo, "other", "u2", models.ModelStatusReady, 0)

	rows, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0].ModelName)
	assert.Equal(t, "old", rows[1].ModelName)
}

func TestModelRepoHasTraining(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "done", "u1", models.ModelStatusReady, -time.Hour)
	ok, err := repo.HasTraining(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	seedModel(t, repo, "running", "u1", models.ModelStatusTraining, 0)
	ok, err = repo.HasTraining(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.UpdateStatus(ctx, "running", models.ModelStatusFailed, "cancelled"))
	ok, err = repo.HasTraining(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModelRepoUpdateStatusAndJobID(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "m1", "u1", models.ModelStatusTraining, 0)

	require.NoError(t, repo.SetJobID(ctx, "m1", "job-42"))
	require.NoError(t, repo.UpdateStatus(ctx, "m1", models.ModelStatusReady, ""))

	got, err := repo.GetByName(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "job-42", got.JobID)
	assert.Equal(t, models.ModelStatusReady, got.Status)
	assert.Empty(t, got.ErrorSummary)

	assert.True(t, errors.Is(repo.UpdateStatus(ctx, "missing", models.ModelStatusReady, ""), utils.ErrNotFound))
	assert.True(t, errors.Is(repo.SetJobID(ctx, "missing", "x"), utils.ErrNotFound))
}

func TestModelRepoActivateSwap(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "first", "u1", models.ModelStatusReady, -time.Hour)
	seedModel(t, repo, "second", "u1", models.ModelStatusReady, 0)
	seedModel(t, repo, "other", "u2", models.ModelStatusReady, 0)

	require.NoError(t, repo.ActivateSwap(ctx, "u1", "first"))
	require.NoError(t, repo.ActivateSwap(ctx, "u1", "second"))

	active, err := repo.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", active.ModelName)

	first, err := repo.GetByName(ctx, "first")
	require.NoError(t, err)
	assert.False(t, first.IsActive)

	// Swapping for the wrong user touches nothing.
	err = repo.ActivateSwap(ctx, "u2", "second")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	active, err = repo.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", active.ModelName)

	_, err = repo.GetActive(ctx, "u2")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestModelRepoDeactivateAndDelete(t *testing.T) {
	repo := NewModelRepo(testDB(t))
	ctx := context.Background()

	seedModel(t, repo, "m1", "u1", models.ModelStatusReady, 0)
	require.NoError(t, repo.ActivateSwap(ctx, "u1", "m1"))

	require.NoError(t, repo.Deactivate(ctx, "m1"))
	_, err := repo.GetActive(ctx, "u1")
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.GetByName(ctx, "m1")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, "m1"), utils.ErrNotFound))
}
