package models

import (
	"time"

	"github.com/lib/pq"
)

// Rating scale: 1..5. The two feedback buttons in the UI map to the
// extremes; thresholds below classify everything in between.
const (
	RatingMin  = 1
	RatingMax  = 5
	RatingGood = 4 // rating >= RatingGood counts toward training data
	RatingBad  = 2 // rating <= RatingBad triggers preference learning
)

// Conversation is one stored turn. Immutable after creation except for
// Rating and Tags; rows are never deleted.
type Conversation struct {
	ID          string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Timestamp   time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	UserMessage string         `gorm:"column:user_message;type:text" json:"user_message"`
	AIResponse  string         `gorm:"column:ai_response;type:text" json:"ai_response"`
	ModelUsed   string         `gorm:"column:model_used;type:text" json:"model_used"`
	Rating      *int           `gorm:"column:rating" json:"rating"`
	Comment     string         `gorm:"column:comment;type:text" json:"comment,omitempty"`
	Reason      string         `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Tags        pq.StringArray `gorm:"column:tags;type:text[]" json:"tags"`
}

func (Conversation) TableName() string { return "conversations" }
