package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minatori/partnerai/internal/events"
	"github.com/minatori/partnerai/internal/models"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// ConversationService is the single writable source of truth for turns.
// Every successful Append and SetRating publishes a recompute hook that the
// learn workers consume; publishing never blocks the caller beyond the
// stream write itself.
type ConversationService interface {
	Append(ctx context.Context, userID, userMessage, aiResponse, modelUsed, reason string, tags []string) (*models.Conversation, error)
	History(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	SetRating(ctx context.Context, conversationID string, rating int, comment string) error
	SetTags(ctx context.Context, conversationID string, tags []string) error
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	Stats(ctx context.Context, userID string) (*pgrepo.ConversationStats, error)
}

type conversationService struct {
	convos pgrepo.ConversationRepo
	pub    events.Publisher
	log    *logrus.Logger
}

func NewConversationService(convos pgrepo.ConversationRepo, pub events.Publisher, log *logrus.Logger) ConversationService {
	if log == nil {
		log = logrus.New()
	}
	return &conversationService{convos: convos, pub: pub, log: log}
}

func (s *conversationService) Append(ctx context.Context, userID, userMessage, aiResponse, modelUsed, reason string, tags []string) (*models.Conversation, error) {
	const op = "ConversationService.Append"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "message must not be empty", nil)
	}
	if strings.TrimSpace(aiResponse) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "response must not be empty", nil)
	}

	row := &models.Conversation{
		ID:          uuid.NewString(),
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		ModelUsed:   modelUsed,
		Reason:      reason,
		Tags:        pq.StringArray(dedupeTags(tags)),
	}

	if err := s.convos.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert conversation", err)
	}

	s.publish(ctx, events.Event{
		Type:           events.TypeConversationAppended,
		UserID:         userID,
		ConversationID: row.ID,
	})
	return row, nil
}

func (s *conversationService) History(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	const op = "ConversationService.History"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.convos.LatestN(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *conversationService) SetRating(ctx context.Context, conversationID string, rating int, comment string) error {
	const op = "ConversationService.SetRating"

	if conversationID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "conversation_id is required", nil)
	}
	if rating < models.RatingMin || rating > models.RatingMax {
		return utils.E(utils.CodeInvalidArgument, op,
			fmt.Sprintf("rating must be between %d and %d", models.RatingMin, models.RatingMax), nil)
	}

	err := s.convos.UpdateRating(ctx, conversationID, rating, comment)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "conversation not found", err)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save rating", err)
	}

	row, err := s.convos.GetByID(ctx, conversationID)
	if err == nil {
		s.publish(ctx, events.Event{
			Type:           events.TypeConversationRated,
			UserID:         row.UserID,
			ConversationID: conversationID,
		})
	}
	return nil
}

func (s *conversationService) SetTags(ctx context.Context, conversationID string, tags []string) error {
	const op = "ConversationService.SetTags"

	if conversationID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "conversation_id is required", nil)
	}

	err := s.convos.UpdateTags(ctx, conversationID, dedupeTags(tags))
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "conversation not found", err)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save tags", err)
	}
	return nil
}

func (s *conversationService) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	const op = "ConversationService.Get"

	row, err := s.convos.GetByID(ctx, conversationID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get conversation", err)
	}
	return row, nil
}

func (s *conversationService) Stats(ctx context.Context, userID string) (*pgrepo.ConversationStats, error) {
	const op = "ConversationService.Stats"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	stats, err := s.convos.Stats(ctx, userID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to compute stats", err)
	}
	return stats, nil
}

// publish fires a recompute hook. The store stays correct even if the
// stream is down, so failures are logged and swallowed.
func (s *conversationService) publish(ctx context.Context, ev events.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.WithFields(logrus.Fields{
			"type":            ev.Type,
			"conversation_id": ev.ConversationID,
		}).WithError(err).Warn("failed to publish recompute hook")
	}
}

// dedupeTags drops duplicates while preserving first-seen order, so
// SetTags with the same set is idempotent.
func dedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
