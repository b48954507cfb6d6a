package training

import "context"

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Sample is one curated conversation turn in a training dataset.
type Sample struct {
	UserMessage string
	AIResponse  string
	Rating      *int
	Tags        []string
}

// Dataset is what a fine-tune run consumes: the user's curated turns plus
// the profile facts that seed the personalized system prompt.
type Dataset struct {
	UserID      string
	Samples     []Sample
	Tone        string
	Interests   []string
	Preferences []string
	Memories    []string
}

// Backend runs fine-tune jobs. Submit returns immediately with a job id;
// progress is observed through Poll until a terminal status.
type Backend interface {
	Submit(ctx context.Context, ds Dataset, baseModel, modelName string) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (status Status, errSummary string, err error)
	Cancel(ctx context.Context, jobID string) error
}
