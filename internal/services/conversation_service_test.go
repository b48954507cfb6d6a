package services

import (
	"context"
	"testing"
	"time"

	"github.com/minatori/partnerai/internal/events"
	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendValidation(t *testing.T) {
	svc := NewConversationService(&fakeConvRepo{}, nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "", "hi", "hello", "m", "", nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.Append(ctx, "u1", "   ", "hello", "m", "", nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.Append(ctx, "u1", "hi", "", "m", "", nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestAppendPublishesHook(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewConversationService(&fakeConvRepo{}, pub, nil)

	conv, err := svc.Append(context.Background(), "u1", "hi", "hello", "base", "", []string{"go", "go", " "})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, []string{"go"}, []string(conv.Tags))

	evs := pub.published()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeConversationAppended, evs[0].Type)
	assert.Equal(t, conv.ID, evs[0].ConversationID)
	assert.Equal(t, "u1", evs[0].UserID)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	repo := &fakeConvRepo{}
	svc := NewConversationService(repo, nil, nil)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		repo.rows = append(repo.rows, models.Conversation{
			ID:          intID(i),
			UserID:      "u1",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			UserMessage: "m",
			AIResponse:  "r",
		})
	}

	rows, err := svc.History(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Newest first.
	assert.Equal(t, intID(4), rows[0].ID)
	assert.Equal(t, intID(2), rows[2].ID)

	// Out-of-range limits fall back to the default.
	rows, err = svc.History(ctx, "u1", -1)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	rows, err = svc.History(ctx, "u1", 501)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestSetRating(t *testing.T) {
	repo := &fakeConvRepo{}
	pub := &fakePublisher{}
	svc := NewConversationService(repo, pub, nil)
	ctx := context.Background()

	conv, err := svc.Append(ctx, "u1", "hi", "hello", "base", "", nil)
	require.NoError(t, err)

	err = svc.SetRating(ctx, conv.ID, 0, "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	err = svc.SetRating(ctx, conv.ID, 6, "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	err = svc.SetRating(ctx, "missing", 5, "")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	require.NoError(t, svc.SetRating(ctx, conv.ID, 5, "great"))

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5, *got.Rating)
	assert.Equal(t, "great", got.Comment)

	// A re-rate overwrites.
	require.NoError(t, svc.SetRating(ctx, conv.ID, 2, "meh"))
	got, err = svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *got.Rating)

	evs := pub.published()
	require.Len(t, evs, 3) // appended + two rated
	assert.Equal(t, events.TypeConversationRated, evs[1].Type)
	assert.Equal(t, "u1", evs[1].UserID)
}

func TestSetTagsIdempotent(t *testing.T) {
	repo := &fakeConvRepo{}
	svc := NewConversationService(repo, nil, nil)
	ctx := context.Background()

	conv, err := svc.Append(ctx, "u1", "hi", "hello", "base", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetTags(ctx, conv.ID, []string{"go", "testing", "go"}))
	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "testing"}, []string(got.Tags))

	require.NoError(t, svc.SetTags(ctx, conv.ID, []string{"go", "testing"}))
	again, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string(got.Tags), []string(again.Tags))

	err = svc.SetTags(ctx, "missing", []string{"x"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

// A turn keeps counting toward stats and readiness totals after being
// rated low; nothing is ever deleted.
func TestLowRatedTurnStaysStored(t *testing.T) {
	repo := &fakeConvRepo{}
	svc := NewConversationService(repo, nil, nil)
	ctx := context.Background()

	conv, err := svc.Append(ctx, "u1", "hi", "hello", "base", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.SetRating(ctx, conv.ID, 1, "bad"))

	stats, err := svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalConversations)
	assert.Equal(t, 1.0, stats.AverageRating)

	rows, err := svc.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func intID(i int) string {
	return "00000000-0000-0000-0000-00000000000" + string(rune('0'+i))
}
