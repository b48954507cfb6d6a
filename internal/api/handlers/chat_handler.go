package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/services"
	"github.com/minatori/partnerai/internal/utils"
)

type ChatHandler struct {
	svc services.ChatService
}

func NewChatHandler(svc services.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
	Model   string `json:"model,omitempty"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Chat", "invalid request body", err))
		return
	}

	if !authorizeUser(c, req.UserID) {
		return
	}

	result, err := h.svc.HandleTurn(c.Request.Context(), req.UserID, req.Message, req.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
