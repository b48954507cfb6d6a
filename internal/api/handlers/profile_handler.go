package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/services"
)

type ProfileHandler struct {
	profiles services.ProfileService
	memories services.MemoryService
	convos   services.ConversationService
}

func NewProfileHandler(
	profiles services.ProfileService,
	memories services.MemoryService,
	convos services.ConversationService,
) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, memories: memories, convos: convos}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	p, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	ragCount, err := h.memories.Count(c.Request.Context(), userID)
	if err != nil {
		ragCount = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": gin.H{
			"tone":                p.Tone,
			"interests":           p.Interests,
			"preferences":         p.Preferences,
			"memories":            p.MemoryList(),
			"topic_counts":        p.TopicCountMap(),
			"total_conversations": p.TotalConversations,
			"rag_memories":        ragCount,
		},
	})
}

func (h *ProfileHandler) Stats(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	stats, err := h.convos.Stats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Rebuild drops the stored profile and relearns it from the conversation
// log.
func (h *ProfileHandler) Rebuild(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	if err := h.profiles.Rebuild(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "profile rebuilt",
	})
}
