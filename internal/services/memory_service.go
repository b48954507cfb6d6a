package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/providers/llm"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const (
	// memoryContentLimit truncates each side of a stored turn.
	memoryContentLimit = 500

	// DefaultMinSimilarity is the relevance cutoff: candidates below it
	// are dropped, so unrelated queries legitimately return fewer than k
	// results or none.
	DefaultMinSimilarity = 0.35
)

// RetrievedMemory is one ranked retrieval hit.
type RetrievedMemory struct {
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Similarity     float64   `json:"similarity"`
}

// MemoryService is the semantic index over stored conversations. The
// vector math lives in the embedder and pgvector; this service owns
// user-scoping, thresholding, ranking, and index consistency.
type MemoryService interface {
	Index(ctx context.Context, conv *models.Conversation) error
	Query(ctx context.Context, userID, text string, k int) ([]RetrievedMemory, error)
	Count(ctx context.Context, userID string) (int64, error)
}

type memoryService struct {
	memories      pgrepo.MemoryRepo
	embedder      llm.Embedder
	minSimilarity float64
}

func NewMemoryService(memories pgrepo.MemoryRepo, embedder llm.Embedder, minSimilarity float64) MemoryService {
	if minSimilarity <= 0 || minSimilarity >= 1 {
		minSimilarity = DefaultMinSimilarity
	}
	return &memoryService{memories: memories, embedder: embedder, minSimilarity: minSimilarity}
}

// Index embeds the turn and upserts it keyed on conversation id: one
// atomic row write, no duplicates, and concurrent queries never observe a
// half-indexed entry.
func (s *memoryService) Index(ctx context.Context, conv *models.Conversation) error {
	const op = "MemoryService.Index"

	if conv == nil || conv.ID == "" || conv.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "conversation with id and user_id is required", nil)
	}

	content := fmt.Sprintf("User: %s\nAI: %s",
		truncateRunes(conv.UserMessage, memoryContentLimit),
		truncateRunes(conv.AIResponse, memoryContentLimit))

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to embed conversation", err)
	}

	entry := &models.MemoryEntry{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Content:        content,
		Embedding:      pgvector.NewVector(vec),
		Timestamp:      conv.Timestamp,
	}
	if err := s.memories.Upsert(ctx, entry); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to index conversation", err)
	}
	return nil
}

func (s *memoryService) Query(ctx context.Context, userID, text string, k int) ([]RetrievedMemory, error) {
	const op = "MemoryService.Query"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if k <= 0 {
		k = 3
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to embed query", err)
	}

	candidates, err := s.memories.Search(ctx, userID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to search memories", err)
	}

	out := make([]RetrievedMemory, 0, len(candidates))
	for _, c := range candidates {
		similarity := 1 - c.Distance
		if similarity < s.minSimilarity {
			continue
		}
		out = append(out, RetrievedMemory{
			ConversationID: c.ConversationID,
			Content:        c.Content,
			Timestamp:      c.Timestamp,
			Similarity:     similarity,
		})
	}

	// Most relevant first; equal scores break toward the newer turn.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *memoryService) Count(ctx context.Context, userID string) (int64, error) {
	const op = "MemoryService.Count"

	count, err := s.memories.CountByUser(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to count memories", err)
	}
	return count, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
