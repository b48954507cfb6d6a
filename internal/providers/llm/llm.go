package llm

import "context"

type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

type ModelInfo struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	ParameterSize string `json:"parameter_size,omitempty"`
	Quantization  string `json:"quantization,omitempty"`
}

// Provider is the inference collaborator: a full message exchange in, the
// complete answer text out. Implementations map unknown models to
// NOT_FOUND and slow backends to TIMEOUT/UNAVAILABLE app errors.
type Provider interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// Embedder produces fixed-dimension vectors for semantic retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelManager exposes model administration on the inference host.
type ModelManager interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	DeleteModel(ctx context.Context, name string) error
}
