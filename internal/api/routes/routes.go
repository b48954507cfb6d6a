package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/api/handlers"
	"github.com/minatori/partnerai/internal/api/middleware"
)

type Deps struct {
	Chat         *handlers.ChatHandler
	Conversation *handlers.ConversationHandler
	Profile      *handlers.ProfileHandler
	Models       *handlers.ModelsHandler
	Finetune     *handlers.FinetuneHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	api := r.Group("/api")
	api.Use(middleware.JWTAuth())

	api.POST("/chat", d.Chat.Chat)

	api.GET("/history/:user_id", d.Conversation.History)
	api.POST("/feedback", d.Conversation.Feedback)
	api.POST("/conversation/:conversation_id/tags", d.Conversation.Tags)

	api.GET("/profile/:user_id", d.Profile.Get)
	api.POST("/profile/:user_id/rebuild", d.Profile.Rebuild)
	api.GET("/stats/:user_id", d.Profile.Stats)

	api.GET("/models", d.Models.List)

	api.GET("/finetune/available-models", d.Models.AvailableModels)
	api.GET("/finetune/:user_id/readiness", d.Finetune.Readiness)
	api.POST("/finetune/:user_id", d.Finetune.Create)
	api.GET("/finetune/:user_id/models", d.Finetune.Models)
	api.GET("/finetune/:user_id/jobs", d.Finetune.Jobs)
	api.GET("/finetune/:user_id/active", d.Finetune.Active)
	api.POST("/finetune/:user_id/models/:model_name/activate", d.Finetune.Activate)
	api.POST("/finetune/:user_id/models/:model_name/deactivate", d.Finetune.Deactivate)
	api.POST("/finetune/:user_id/models/:model_name/cancel", d.Finetune.Cancel)
	api.DELETE("/finetune/:user_id/models/:model_name", d.Finetune.Delete)
	api.POST("/finetune/:user_id/evaluate", d.Finetune.Evaluate)
}
