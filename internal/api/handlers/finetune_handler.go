package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/services"
	"github.com/minatori/partnerai/internal/utils"
)

type FinetuneHandler struct {
	finetunes services.FinetuneService
	readiness services.ReadinessService
}

func NewFinetuneHandler(finetunes services.FinetuneService, readiness services.ReadinessService) *FinetuneHandler {
	return &FinetuneHandler{finetunes: finetunes, readiness: readiness}
}

func (h *FinetuneHandler) Readiness(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	status, err := h.readiness.Check(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

type CreateFinetuneRequest struct {
	BaseModel string `json:"base_model" binding:"required"`
}

func (h *FinetuneHandler) Create(c *gin.Context) {
	const op = "FinetuneHandler.Create"

	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	var req CreateFinetuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	result, err := h.finetunes.Create(c.Request.Context(), userID, req.BaseModel)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *FinetuneHandler) Models(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	rows, err := h.finetunes.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"models": rows})
}

func (h *FinetuneHandler) Jobs(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	rows, err := h.finetunes.Jobs(c.Request.Context(), userID, 0)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": rows})
}

func (h *FinetuneHandler) Active(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	active, err := h.finetunes.Active(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	if active == nil {
		c.JSON(http.StatusOK, gin.H{"has_custom_model": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"has_custom_model": true,
		"model_name":       active.ModelName,
	})
}

func (h *FinetuneHandler) Activate(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}
	modelName := c.Param("model_name")

	if err := h.finetunes.Activate(c.Request.Context(), userID, modelName); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "model activated: " + modelName,
	})
}

func (h *FinetuneHandler) Deactivate(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}
	modelName := c.Param("model_name")

	if err := h.finetunes.Deactivate(c.Request.Context(), userID, modelName); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "model deactivated: " + modelName,
	})
}

func (h *FinetuneHandler) Cancel(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}
	modelName := c.Param("model_name")

	if err := h.finetunes.Cancel(c.Request.Context(), userID, modelName); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "training cancelled: " + modelName,
	})
}

func (h *FinetuneHandler) Delete(c *gin.Context) {
	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}
	modelName := c.Param("model_name")

	if err := h.finetunes.Delete(c.Request.Context(), userID, modelName); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "model deleted: " + modelName,
	})
}

type EvaluateRequest struct {
	ModelName   string   `json:"model_name" binding:"required"`
	TestPrompts []string `json:"test_prompts,omitempty"`
}

func (h *FinetuneHandler) Evaluate(c *gin.Context) {
	const op = "FinetuneHandler.Evaluate"

	userID := c.Param("user_id")
	if !authorizeUser(c, userID) {
		return
	}

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	eval, err := h.finetunes.Evaluate(c.Request.Context(), userID, req.ModelName, req.TestPrompts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, eval)
}
