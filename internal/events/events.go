package events

import "context"

const (
	// StreamLearn carries the recompute hooks fired by the conversation
	// store; the learn worker pool consumes it.
	StreamLearn = "learn:stream"

	TypeConversationAppended = "conversation.appended"
	TypeConversationRated    = "conversation.rated"
)

type Event struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// Publisher fans out store-side changes to the derived views. Publishing
// must be cheap: callers fire it on the hot append path.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
