package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/services"
	"github.com/minatori/partnerai/internal/utils"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// History returns the user's most recent turns, newest first.
func (h *ConversationHandler) History(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	rows, err := h.svc.History(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": rows,
		"total":         len(rows),
	})
}

type FeedbackRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Rating         int    `json:"rating" binding:"required"`
	Comment        string `json:"comment,omitempty"`
}

func (h *ConversationHandler) Feedback(c *gin.Context) {
	const op = "ConversationHandler.Feedback"

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), req.ConversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorizeUser(c, conv.UserID) {
		return
	}

	if err := h.svc.SetRating(c.Request.Context(), req.ConversationID, req.Rating, req.Comment); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "feedback recorded",
	})
}

type TagsRequest struct {
	Tags []string `json:"tags" binding:"required"`
}

func (h *ConversationHandler) Tags(c *gin.Context) {
	const op = "ConversationHandler.Tags"

	conversationID := c.Param("conversation_id")

	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorizeUser(c, conv.UserID) {
		return
	}

	if err := h.svc.SetTags(c.Request.Context(), conversationID, req.Tags); err != nil {
		writeError(c, err)
		return
	}

	updated, err := h.svc.Get(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"tags":   updated.Tags,
	})
}
