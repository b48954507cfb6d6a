package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/minatori/partnerai/config"
	"github.com/minatori/partnerai/internal/api/handlers"
	"github.com/minatori/partnerai/internal/api/middleware"
	"github.com/minatori/partnerai/internal/api/routes"
	"github.com/minatori/partnerai/internal/cache"
	"github.com/minatori/partnerai/internal/events"
	"github.com/minatori/partnerai/internal/logger"
	"github.com/minatori/partnerai/internal/providers/llm"
	"github.com/minatori/partnerai/internal/providers/training"
	mongorepo "github.com/minatori/partnerai/internal/repositories/mongo"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/services"
	"github.com/minatori/partnerai/internal/userlock"
	"github.com/minatori/partnerai/internal/workers"
)

func main() {
	_ = godotenv.Load()

	logg := logger.New()

	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.MigratePostgres(); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}
	logg.Info("PostgreSQL connected")

	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	logg.Info("MongoDB connected")

	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	logg.Info("Redis connected")

	// Providers
	ollama := llm.NewOllama(os.Getenv("OLLAMA_URL"), os.Getenv("EMBED_MODEL"), envInt("EMBED_DIMENSIONS", 0))
	trainer := training.NewOllamaTrainer(ollama, logg)

	// Repositories
	convRepo := pgrepo.NewConversationRepo(config.PostgresDB)
	memRepo := pgrepo.NewMemoryRepo(config.PostgresDB)
	profRepo := pgrepo.NewProfileRepo(config.PostgresDB)
	modelRepo := pgrepo.NewModelRepo(config.PostgresDB)
	jobRepo := mongorepo.NewJobRepo(config.MongoClient.Database(config.MongoDBName()))

	// Shared infra
	redisCache := cache.NewRedisCache(config.RedisClient)
	publisher := events.NewRedisPublisher(config.RedisClient, events.StreamLearn)
	locks := userlock.New()

	// Services
	analyzer := services.NewLLMAnalyzer(ollama, os.Getenv("ANALYZE_MODEL"))
	convSvc := services.NewConversationService(convRepo, publisher, logg)
	memSvc := services.NewMemoryService(memRepo, ollama, 0)
	profSvc := services.NewProfileService(profRepo, convRepo, analyzer, ollama, redisCache, locks, logg)
	readySvc := services.NewReadinessService(convRepo, envInt("FINETUNE_REQUIRED_CONVERSATIONS", 0))
	ftSvc := services.NewFinetuneService(
		modelRepo, jobRepo, readySvc, profSvc, trainer, ollama, ollama, locks, logg,
		services.FinetuneOptions{
			PollInterval: envDuration("TRAINING_POLL_INTERVAL", 0),
			MaxDuration:  envDuration("TRAINING_MAX_DURATION", 0),
		},
	)
	chatSvc := services.NewChatService(convSvc, memSvc, profSvc, ftSvc, ollama, locks, logg, os.Getenv("BASE_MODEL"))

	// Learning worker pool
	pool := &workers.LearnWorkerPool{
		Redis:         config.RedisClient,
		Conversations: convSvc,
		Memories:      memSvc,
		Profiles:      profSvc,
		NumWorkers:    envInt("LEARN_WORKERS", 0),
		Logger:        logg,
	}
	if err := pool.Start(context.Background()); err != nil {
		log.Fatalf("worker pool error: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logg))

	routes.RegisterRoutes(r, routes.Deps{
		Chat:         handlers.NewChatHandler(chatSvc),
		Conversation: handlers.NewConversationHandler(convSvc),
		Profile:      handlers.NewProfileHandler(profSvc, memSvc, convSvc),
		Models:       handlers.NewModelsHandler(ollama),
		Finetune:     handlers.NewFinetuneHandler(ftSvc, readySvc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}
