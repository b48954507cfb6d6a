package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/minatori/partnerai/internal/cache"
	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/providers/llm"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/userlock"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	profileCacheTTL = 5 * time.Minute

	// memoryDupSimilarity: a candidate memory this close to an existing
	// one is treated as already known and not inserted.
	memoryDupSimilarity = 0.9

	// minKeyInfoRunes filters out degenerate one-word "facts".
	minKeyInfoRunes = 10
)

// ProfileService derives and serves the learned user profile. The profile
// is a pure function of the conversation store: Learn only ever adds, and
// Rebuild recomputes everything from scratch.
type ProfileService interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	Learn(ctx context.Context, userID string) error
	LearnFromFeedback(ctx context.Context, conversationID string) error
	Rebuild(ctx context.Context, userID string) error
}

type profileService struct {
	profiles pgrepo.ProfileRepository
	convos   pgrepo.ConversationRepo
	analyzer Analyzer
	embedder llm.Embedder
	cache    cache.Cache
	locks    *userlock.Keyed
	log      *logrus.Logger
}

func NewProfileService(profiles pgrepo.ProfileRepository, convos pgrepo.ConversationRepo, analyzer Analyzer, embedder llm.Embedder, c cache.Cache, locks *userlock.Keyed, log *logrus.Logger) ProfileService {
	if locks == nil {
		locks = userlock.New()
	}
	if log == nil {
		log = logrus.New()
	}
	return &profileService{
		profiles: profiles,
		convos:   convos,
		analyzer: analyzer,
		embedder: embedder,
		cache:    c,
		locks:    locks,
		log:      log,
	}
}

func profileCacheKey(userID string) string { return "profile:" + userID }

func (s *profileService) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	const op = "ProfileService.Get"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	if s.cache != nil {
		var cached models.UserProfile
		if hit, err := s.cache.GetJSON(ctx, profileCacheKey(userID), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if errors.Is(err, utils.ErrNotFound) {
		return models.DefaultProfile(userID), nil
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, profileCacheKey(userID), p, profileCacheTTL)
	}
	return p, nil
}

// Learn processes conversations newer than the profile watermark. Topic
// counts grow once per conversation per topic, interests keep discovery
// order, memories are semantically deduplicated and FIFO-capped. When
// extraction yields nothing the profile keeps its previous values.
func (s *profileService) Learn(ctx context.Context, userID string) error {
	const op = "ProfileService.Learn"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	// Learn is a read-modify-write of the whole profile row; the user
	// lock keeps concurrent learners from committing stale state over a
	// fresher one.
	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.learn(ctx, op, userID)
}

func (s *profileService) learn(ctx context.Context, op, userID string) error {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if errors.Is(err, utils.ErrNotFound) {
		profile = models.DefaultProfile(userID)
	} else if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to load profile", err)
	}

	rows, err := s.convos.ListSince(ctx, userID, profile.LastLearnedAt)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	if len(rows) == 0 {
		return nil
	}

	topicCounts := profile.TopicCountMap()
	interests := []string(profile.Interests)
	memories := profile.MemoryList()
	emotions := map[string]int{}

	for i := range rows {
		conv := &rows[i]

		analysis := s.analyze(ctx, conv)

		// Once per conversation per matched topic.
		for _, topic := range uniqueTopics(analysis.Topics) {
			topicCounts[topic]++
			interests = appendInterest(interests, topic)
		}
		if analysis.Emotion != "" && analysis.Emotion != "neutral" {
			emotions[analysis.Emotion]++
		}

		keyInfo := strings.TrimSpace(analysis.KeyInfo)
		if len([]rune(keyInfo)) >= minKeyInfoRunes {
			memories = s.insertMemory(ctx, memories, keyInfo)
		}

		profile.LastLearnedAt = conv.Timestamp
	}

	if tone := dominantTone(emotions, len(rows)); tone != "" {
		profile.Tone = tone
	}

	total, err := s.convos.CountByUser(ctx, userID)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to count conversations", err)
	}

	profile.SetTopicCountMap(topicCounts)
	profile.Interests = pq.StringArray(interests)
	profile.SetMemoryList(memories)
	profile.TotalConversations = int(total)
	profile.UpdatedAt = time.Now().UTC()

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save profile", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// LearnFromFeedback folds a low rating with a comment into the preference
// set.
func (s *profileService) LearnFromFeedback(ctx context.Context, conversationID string) error {
	const op = "ProfileService.LearnFromFeedback"

	conv, err := s.convos.GetByID(ctx, conversationID)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "conversation not found", err)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to get conversation", err)
	}

	if conv.Rating == nil || *conv.Rating > models.RatingBad {
		return nil
	}
	pref := preferenceFromComment(conv.Comment)
	if pref == "" {
		return nil
	}

	unlock := s.locks.Lock(conv.UserID)
	defer unlock()

	profile, err := s.profiles.GetByUserID(ctx, conv.UserID)
	if errors.Is(err, utils.ErrNotFound) {
		profile = models.DefaultProfile(conv.UserID)
	} else if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to load profile", err)
	}

	for _, existing := range profile.Preferences {
		if existing == pref {
			return nil
		}
	}
	profile.Preferences = append(profile.Preferences, pref)
	profile.UpdatedAt = time.Now().UTC()

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save profile", err)
	}
	s.invalidate(ctx, conv.UserID)
	return nil
}

// Rebuild drops the derived row and relearns the full history; the store
// holds everything needed to reproduce the profile.
func (s *profileService) Rebuild(ctx context.Context, userID string) error {
	const op = "ProfileService.Rebuild"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.profiles.Delete(ctx, userID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to reset profile", err)
	}
	s.invalidate(ctx, userID)
	return s.learn(ctx, op, userID)
}

func (s *profileService) analyze(ctx context.Context, conv *models.Conversation) *Analysis {
	analysis, err := s.analyzer.Analyze(ctx, conv.UserMessage, conv.AIResponse)
	if err != nil || analysis == nil {
		if err != nil {
			s.log.WithField("conversation_id", conv.ID).
				WithError(err).Debug("analyzer unavailable, using keyword extraction")
		}
		analysis = defaultAnalysis()
	}
	if len(analysis.Topics) == 0 {
		analysis.Topics = ExtractTopics(conv.UserMessage + " " + conv.AIResponse)
	}
	return analysis
}

// insertMemory appends candidate unless a semantically equivalent memory
// already exists; past the cap the oldest entry is evicted.
func (s *profileService) insertMemory(ctx context.Context, memories []string, candidate string) []string {
	for _, m := range memories {
		if m == candidate {
			return memories
		}
	}

	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, candidate); err == nil {
			for _, m := range memories {
				existing, err := s.embedder.Embed(ctx, m)
				if err != nil {
					continue
				}
				if cosineSimilarity(vec, existing) >= memoryDupSimilarity {
					return memories
				}
			}
		}
	}

	memories = append(memories, candidate)
	if len(memories) > models.MemoriesCap {
		memories = memories[len(memories)-models.MemoriesCap:]
	}
	return memories
}

func (s *profileService) invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, profileCacheKey(userID))
	}
}

func uniqueTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := map[string]bool{}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func appendInterest(interests []string, topic string) []string {
	for _, i := range interests {
		if i == topic {
			return interests
		}
	}
	if len(interests) >= models.InterestsCap {
		return interests
	}
	return append(interests, topic)
}

// dominantTone maps the prevailing emotion of the processed batch to a
// tone descriptor; a weak or neutral signal keeps the current tone.
func dominantTone(emotions map[string]int, batch int) string {
	best, bestCount := "", 0
	for emotion, count := range emotions {
		if count > bestCount {
			best, bestCount = emotion, count
		}
	}
	if bestCount*2 <= batch {
		return ""
	}
	switch best {
	case "happy":
		return "upbeat"
	case "curious":
		return "encouraging"
	case "frustrated":
		return "calm and supportive"
	}
	return ""
}

func preferenceFromComment(comment string) string {
	lower := strings.ToLower(comment)
	switch {
	case strings.Contains(lower, "detail") || strings.Contains(lower, "specific") || strings.Contains(lower, "example"):
		return "prefers detailed explanations"
	case strings.Contains(lower, "short") || strings.Contains(lower, "concise") || strings.Contains(lower, "too long"):
		return "prefers concise answers"
	case strings.Contains(lower, "simple") || strings.Contains(lower, "jargon"):
		return "prefers plain language"
	}
	return ""
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
