package services

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/minatori/partnerai/internal/models"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/utils"
)

const (
	DefaultRequiredConversations = 15

	// nearDupJaccard: two normalized user messages at or above this token
	// overlap count as the same prompt for training purposes.
	nearDupJaccard = 0.9

	// trainingPoolLimit bounds how far back the gate scans for
	// high-rated turns, matching the training-set window.
	trainingPoolLimit = 100
)

// ReadinessStatus reports whether enough quality data exists to train a
// custom model. Derived on demand, never persisted.
type ReadinessStatus struct {
	Ready                  bool    `json:"ready"`
	TotalConversations     int     `json:"total_conversations"`
	HighRatedConversations int     `json:"high_rated_conversations"`
	UsableForTraining      int     `json:"usable_for_training"`
	Required               int     `json:"required"`
	ProgressPercentage     float64 `json:"progress_percentage"`
}

// ReadinessService is a pure function of the conversation store.
type ReadinessService interface {
	Check(ctx context.Context, userID string) (*ReadinessStatus, error)
	// TrainingSet returns the diverse high-rated turns a fine-tune run
	// would consume, most recent first.
	TrainingSet(ctx context.Context, userID string) ([]models.Conversation, error)
}

type readinessService struct {
	convos   pgrepo.ConversationRepo
	required int
}

func NewReadinessService(convos pgrepo.ConversationRepo, required int) ReadinessService {
	if required <= 0 {
		required = DefaultRequiredConversations
	}
	return &readinessService{convos: convos, required: required}
}

func (s *readinessService) Check(ctx context.Context, userID string) (*ReadinessStatus, error) {
	const op = "ReadinessService.Check"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	total, err := s.convos.CountByUser(ctx, userID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to count conversations", err)
	}

	highRated, err := s.convos.ListRated(ctx, userID, models.RatingGood, trainingPoolLimit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list rated conversations", err)
	}

	usable := selectDiverse(highRated)

	progress := float64(len(usable)) / float64(s.required) * 100
	progress = math.Min(100, math.Round(progress*10)/10)

	return &ReadinessStatus{
		Ready:                  len(usable) >= s.required,
		TotalConversations:     int(total),
		HighRatedConversations: len(highRated),
		UsableForTraining:      len(usable),
		Required:               s.required,
		ProgressPercentage:     progress,
	}, nil
}

func (s *readinessService) TrainingSet(ctx context.Context, userID string) ([]models.Conversation, error) {
	const op = "ReadinessService.TrainingSet"

	highRated, err := s.convos.ListRated(ctx, userID, models.RatingGood, trainingPoolLimit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list rated conversations", err)
	}
	return selectDiverse(highRated), nil
}

// selectDiverse drops turns whose user message near-duplicates an already
// selected one, keeping the training set varied.
func selectDiverse(convs []models.Conversation) []models.Conversation {
	selected := make([]models.Conversation, 0, len(convs))
	normalized := make([][]string, 0, len(convs))

	for _, conv := range convs {
		tokens := normalizeTokens(conv.UserMessage)
		dup := false
		for _, existing := range normalized {
			if jaccard(tokens, existing) >= nearDupJaccard {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		selected = append(selected, conv)
		normalized = append(normalized, tokens)
	}
	return selected
}

func normalizeTokens(s string) []string {
	lower := strings.ToLower(s)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := map[string]bool{}
	for _, t := range a {
		setA[t] = true
	}
	setB := map[string]bool{}
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
