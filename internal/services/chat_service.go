package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/providers/llm"
	"github.com/minatori/partnerai/internal/userlock"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseModel = "gemma3:4b"

	memoryTopK       = 3
	historyTurns     = 5
	inferenceTimeout = 120 * time.Second
	retryBackoff     = 500 * time.Millisecond
)

type TurnResult struct {
	ConversationID string    `json:"conversation_id"`
	Response       string    `json:"response"`
	ModelUsed      string    `json:"model_used"`
	Reason         string    `json:"reason,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatService composes one personalized turn: model resolution, memory
// retrieval, prompt assembly, inference, persistence.
type ChatService interface {
	HandleTurn(ctx context.Context, userID, message, requestedModel string) (*TurnResult, error)
}

type chatService struct {
	convos    ConversationService
	memories  MemoryService
	profiles  ProfileService
	finetunes FinetuneService
	provider  llm.Provider
	locks     *userlock.Keyed
	log       *logrus.Logger
	baseModel string
}

func NewChatService(
	convos ConversationService,
	memories MemoryService,
	profiles ProfileService,
	finetunes FinetuneService,
	provider llm.Provider,
	locks *userlock.Keyed,
	log *logrus.Logger,
	baseModel string,
) ChatService {
	if locks == nil {
		locks = userlock.New()
	}
	if log == nil {
		log = logrus.New()
	}
	if baseModel == "" {
		baseModel = DefaultBaseModel
	}
	return &chatService{
		convos:    convos,
		memories:  memories,
		profiles:  profiles,
		finetunes: finetunes,
		provider:  provider,
		locks:     locks,
		log:       log,
		baseModel: baseModel,
	}
}

func (s *chatService) HandleTurn(ctx context.Context, userID, message, requestedModel string) (*TurnResult, error) {
	const op = "ChatService.HandleTurn"

	if userID == "" || strings.TrimSpace(message) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and message are required", nil)
	}

	model := s.resolveModel(ctx, userID, requestedModel)

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("profile lookup failed, using defaults")
		profile = models.DefaultProfile(userID)
	}

	// Retrieval failures degrade to an unaugmented prompt rather than
	// failing the turn.
	retrieved, err := s.memories.Query(ctx, userID, message, memoryTopK)
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("memory retrieval failed")
		retrieved = nil
	}

	history, err := s.convos.History(ctx, userID, historyTurns)
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("history lookup failed")
		history = nil
	}

	msgs := buildTurnMessages(profile, retrieved, history, message)

	response, err := s.complete(ctx, model, msgs)
	if err != nil {
		return nil, err
	}

	tags := ExtractTopics(message)
	reason := responseReason(profile, tags, len(retrieved), response)

	// Only the persist step is serialized per user; inference happened
	// outside the lock.
	unlock := s.locks.Lock(userID)
	conv, err := s.convos.Append(ctx, userID, message, response, model, reason, tags)
	unlock()
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		ConversationID: conv.ID,
		Response:       response,
		ModelUsed:      model,
		Reason:         reason,
		Tags:           tags,
		Timestamp:      conv.Timestamp,
	}, nil
}

// resolveModel prefers an explicit request, then the user's active ready
// custom model, then the base model.
func (s *chatService) resolveModel(ctx context.Context, userID, requested string) string {
	if requested != "" {
		return requested
	}
	if s.finetunes != nil {
		active, err := s.finetunes.Active(ctx, userID)
		if err != nil {
			s.log.WithField("user_id", userID).WithError(err).Warn("active model lookup failed")
		} else if active != nil && active.Status == models.ModelStatusReady {
			return active.ModelName
		}
	}
	return s.baseModel
}

// complete invokes the provider with a bounded timeout and retries once
// on a transient failure.
func (s *chatService) complete(ctx context.Context, model string, msgs []llm.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(retryBackoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, inferenceTimeout)
		resp, err := s.provider.Complete(callCtx, model, msgs)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !utils.IsTransient(err) {
			break
		}
		s.log.WithField("model", model).WithError(err).Warn("inference attempt failed, retrying")
	}
	return "", lastErr
}

func buildTurnMessages(profile *models.UserProfile, retrieved []RetrievedMemory, history []models.Conversation, message string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: buildChatSystemPrompt(profile, retrieved)}}

	// History arrives newest first; the prompt wants oldest first.
	for i := len(history) - 1; i >= 0; i-- {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: history[i].UserMessage},
			llm.Message{Role: "assistant", Content: history[i].AIResponse},
		)
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: message})
	return msgs
}

func buildChatSystemPrompt(profile *models.UserProfile, retrieved []RetrievedMemory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a personal AI companion. Speak in a %s tone.\n", profile.Tone)

	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "The user is interested in: %s.\n", strings.Join(profile.Interests, ", "))
	}
	if mems := profile.MemoryList(); len(mems) > 0 {
		b.WriteString("Things you remember about the user:\n")
		for _, m := range mems {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(profile.Preferences) > 0 {
		b.WriteString("Response preferences:\n")
		for _, p := range profile.Preferences {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(retrieved) > 0 {
		b.WriteString("Relevant past exchanges:\n")
		for _, m := range retrieved {
			fmt.Fprintf(&b, "%s\n", m.Content)
		}
	}
	b.WriteString("Be consistent with what you know about the user.")
	return b.String()
}

// responseReason explains, in one short line, what shaped the answer.
func responseReason(profile *models.UserProfile, tags []string, memoriesUsed int, response string) string {
	var parts []string

	matched := intersect(tags, []string(profile.Interests), 3)
	if len(matched) > 0 {
		parts = append(parts, "considered interests: "+strings.Join(matched, ", "))
	}
	if memoriesUsed > 0 {
		parts = append(parts, fmt.Sprintf("%d past memories referenced", memoriesUsed))
	}

	switch n := len([]rune(response)); {
	case n > 300:
		parts = append(parts, "detailed answer style")
	case n < 150:
		parts = append(parts, "concise answer style")
	default:
		parts = append(parts, "balanced answer style")
	}
	return strings.Join(parts, "; ")
}

func intersect(a, b []string, max int) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[strings.ToLower(s)] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[strings.ToLower(s)]; ok {
			out = append(out, s)
			if len(out) >= max {
				break
			}
		}
	}
	return out
}
