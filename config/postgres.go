package config

import (
	"errors"
	"os"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var PostgresDB *gorm.DB

func InitPostgres() error {
	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		return errors.New("POSTGRES_URI environment variable is not set")
	}
	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	PostgresDB = db
	return nil
}

// postgresIndexes holds the statements AutoMigrate cannot express: the
// ANN index for similarity search and the partial unique index that makes
// "at most one active model per user" hold at the database, not just in
// process.
var postgresIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_conversation_memories_embedding " +
		"ON conversation_memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_models_single_active " +
		"ON custom_models (user_id) WHERE is_active",
}

// MigratePostgres creates the schema. The memories table needs the
// pgvector extension for its embedding column.
func MigratePostgres() error {
	if PostgresDB == nil {
		return errors.New("PostgresDB is nil; call InitPostgres() first")
	}
	if err := PostgresDB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return err
	}
	if err := PostgresDB.AutoMigrate(
		&models.Conversation{},
		&models.MemoryEntry{},
		&models.UserProfile{},
		&models.CustomModel{},
	); err != nil {
		return err
	}
	for _, stmt := range postgresIndexes {
		if err := PostgresDB.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
