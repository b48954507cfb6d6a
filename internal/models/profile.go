package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

const (
	DefaultTone  = "friendly"
	MemoriesCap  = 10 // FIFO eviction past this
	InterestsCap = 20
)

// UserProfile is a derived view: everything in it can be recomputed from
// the conversation store, so it is safe to rebuild from scratch.
type UserProfile struct {
	UserID    string         `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	Tone      string         `gorm:"column:tone;type:text" json:"tone"`
	Interests pq.StringArray `gorm:"column:interests;type:text[]" json:"interests"`

	Preferences pq.StringArray `gorm:"column:preferences;type:text[]" json:"preferences"`

	// JSONB (ordered list of short learned facts, capped)
	Memories datatypes.JSON `gorm:"column:memories;type:jsonb" json:"memories"`

	// JSONB map[topic]count, counts only ever grow
	TopicCounts datatypes.JSON `gorm:"column:topic_counts;type:jsonb" json:"topic_counts"`

	TotalConversations int `gorm:"column:total_conversations" json:"total_conversations"`

	// Watermark for incremental learning; zero means never learned.
	LastLearnedAt time.Time `gorm:"column:last_learned_at;type:timestamptz" json:"-"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profiles" }

func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:      userID,
		Tone:        DefaultTone,
		Interests:   pq.StringArray{},
		Preferences: pq.StringArray{},
		Memories:    datatypes.JSON([]byte("[]")),
		TopicCounts: datatypes.JSON([]byte("{}")),
	}
}

// MemoryList decodes the memories column; invalid or empty data decodes
// to an empty list rather than an error.
func (p *UserProfile) MemoryList() []string {
	var out []string
	if len(p.Memories) > 0 {
		_ = json.Unmarshal(p.Memories, &out)
	}
	return out
}

func (p *UserProfile) SetMemoryList(memories []string) {
	if memories == nil {
		memories = []string{}
	}
	b, _ := json.Marshal(memories)
	p.Memories = datatypes.JSON(b)
}

func (p *UserProfile) TopicCountMap() map[string]int {
	out := map[string]int{}
	if len(p.TopicCounts) > 0 {
		_ = json.Unmarshal(p.TopicCounts, &out)
	}
	return out
}

func (p *UserProfile) SetTopicCountMap(counts map[string]int) {
	if counts == nil {
		counts = map[string]int{}
	}
	b, _ := json.Marshal(counts)
	p.TopicCounts = datatypes.JSON(b)
}
