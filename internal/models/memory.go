package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// MemoryEntry is the semantic-index row for one conversation. Embeddings
// live in their own table so history reads never touch vector columns.
// The unique conversation_id keeps the index free of duplicates.
type MemoryEntry struct {
	ID             string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string          `gorm:"column:conversation_id;type:uuid;uniqueIndex" json:"conversation_id"`
	UserID         string          `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Content        string          `gorm:"column:content;type:text" json:"content"`
	Embedding      pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`
	Timestamp      time.Time       `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
}

func (MemoryEntry) TableName() string { return "conversation_memories" }
