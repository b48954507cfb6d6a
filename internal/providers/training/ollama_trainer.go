package training

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minatori/partnerai/internal/utils"
	"github.com/sirupsen/logrus"
)

// ModelBuilder is the slice of the Ollama client the trainer needs.
type ModelBuilder interface {
	CreateModel(ctx context.Context, name, modelfile string) error
}

// OllamaTrainer builds a personalized model from a Modelfile: the base
// model, tuned sampling parameters, a profile-derived system prompt, and a
// few representative turns as few-shot messages. Model creation runs in a
// background goroutine per job; Poll reads the tracked state.
type OllamaTrainer struct {
	builder ModelBuilder
	log     *logrus.Logger

	mu   sync.Mutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	status  Status
	errText string
	cancel  context.CancelFunc
}

func NewOllamaTrainer(builder ModelBuilder, log *logrus.Logger) *OllamaTrainer {
	if log == nil {
		log = logrus.New()
	}
	return &OllamaTrainer{
		builder: builder,
		log:     log,
		jobs:    map[string]*trackedJob{},
	}
}

func (t *OllamaTrainer) Submit(ctx context.Context, ds Dataset, baseModel, modelName string) (string, error) {
	const op = "OllamaTrainer.Submit"

	if len(ds.Samples) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "dataset is empty", nil)
	}
	if baseModel == "" || modelName == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "base_model and model_name are required", nil)
	}

	modelfile := buildModelfile(ds, baseModel, modelName)
	jobID := uuid.NewString()

	// Job context is detached from the request: the run outlives the
	// originating HTTP call and is stopped only by Cancel.
	jobCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.jobs[jobID] = &trackedJob{status: StatusRunning, cancel: cancel}
	t.mu.Unlock()

	go func() {
		defer cancel()
		err := t.builder.CreateModel(jobCtx, modelName, modelfile)

		t.mu.Lock()
		defer t.mu.Unlock()
		job := t.jobs[jobID]
		if job == nil || job.status != StatusRunning {
			return // cancelled while the build ran
		}
		if err != nil {
			job.status = StatusFailed
			job.errText = err.Error()
			t.log.WithFields(logrus.Fields{"job_id": jobID, "model": modelName}).
				WithError(err).Warn("model build failed")
			return
		}
		job.status = StatusSucceeded
		t.log.WithFields(logrus.Fields{"job_id": jobID, "model": modelName}).
			Info("model build finished")
	}()

	return jobID, nil
}

func (t *OllamaTrainer) Poll(ctx context.Context, jobID string) (Status, string, error) {
	const op = "OllamaTrainer.Poll"

	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return "", "", utils.E(utils.CodeNotFound, op, "unknown job", nil)
	}
	return job.status, job.errText, nil
}

func (t *OllamaTrainer) Cancel(ctx context.Context, jobID string) error {
	const op = "OllamaTrainer.Cancel"

	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return utils.E(utils.CodeNotFound, op, "unknown job", nil)
	}
	if job.status == StatusRunning {
		job.status = StatusCancelled
		job.cancel()
	}
	return nil
}

func buildModelfile(ds Dataset, baseModel, modelName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n\n", baseModel)
	fmt.Fprintf(&b, "# Personalized model %s\n", modelName)
	fmt.Fprintf(&b, "# Created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Training samples: %d\n\n", len(ds.Samples))

	b.WriteString("PARAMETER temperature 0.7\n")
	b.WriteString("PARAMETER num_ctx 8192\n")
	b.WriteString("PARAMETER top_p 0.9\n")
	b.WriteString("PARAMETER repeat_penalty 1.1\n\n")

	fmt.Fprintf(&b, "SYSTEM \"\"\"\n%s\n\"\"\"\n", buildSystemPrompt(ds))

	for _, s := range representativeSamples(ds.Samples, 3) {
		fmt.Fprintf(&b, "\nMESSAGE user \"\"\"%s\"\"\"\n", s.UserMessage)
		fmt.Fprintf(&b, "MESSAGE assistant \"\"\"%s\"\"\"\n", s.AIResponse)
	}

	return b.String()
}

func buildSystemPrompt(ds Dataset) string {
	var b strings.Builder

	b.WriteString("You are a highly personalized AI assistant, fine-tuned for one specific user.\n")
	if ds.Tone != "" {
		fmt.Fprintf(&b, "Keep a %s tone.\n", ds.Tone)
	}
	if len(ds.Interests) > 0 {
		fmt.Fprintf(&b, "\nThe user's main interests: %s\n", strings.Join(ds.Interests, ", "))
	}

	// Frequent tags across the dataset hint at recurring topics.
	tagCounts := map[string]int{}
	for _, s := range ds.Samples {
		for _, tag := range s.Tags {
			tagCounts[tag]++
		}
	}
	if len(tagCounts) > 0 {
		type tc struct {
			tag   string
			count int
		}
		sorted := make([]tc, 0, len(tagCounts))
		for tag, count := range tagCounts {
			sorted = append(sorted, tc{tag, count})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].count != sorted[j].count {
				return sorted[i].count > sorted[j].count
			}
			return sorted[i].tag < sorted[j].tag
		})
		top := make([]string, 0, 5)
		for i, t := range sorted {
			if i == 5 {
				break
			}
			top = append(top, t.tag)
		}
		fmt.Fprintf(&b, "Frequent topics: %s\n", strings.Join(top, ", "))
	}

	// Average answer length decides the preferred response style.
	total := 0
	for _, s := range ds.Samples {
		total += len([]rune(s.AIResponse))
	}
	avg := total / len(ds.Samples)
	switch {
	case avg > 300:
		b.WriteString("\nResponse style: the user prefers detailed, thorough explanations.\n")
	case avg < 150:
		b.WriteString("\nResponse style: the user prefers short answers that get to the point.\n")
	default:
		b.WriteString("\nResponse style: the user prefers balanced, moderate-length answers.\n")
	}

	if len(ds.Memories) > 0 {
		b.WriteString("\nImportant facts learned about the user:\n")
		start := 0
		if len(ds.Memories) > 3 {
			start = len(ds.Memories) - 3
		}
		for _, mem := range ds.Memories[start:] {
			fmt.Fprintf(&b, "- %s\n", mem)
		}
	}
	if len(ds.Preferences) > 0 {
		b.WriteString("\nThe user's preferences:\n")
		for _, pref := range ds.Preferences {
			fmt.Fprintf(&b, "- %s\n", pref)
		}
	}

	b.WriteString("\nUse all of this to give the user the most fitting answers.")
	return b.String()
}

// representativeSamples scores turns for few-shot use: top ratings first,
// then moderate answer length, then tagged turns.
func representativeSamples(samples []Sample, n int) []Sample {
	type scored struct {
		score  int
		sample Sample
	}
	list := make([]scored, 0, len(samples))
	for _, s := range samples {
		score := 0
		if s.Rating != nil {
			switch *s.Rating {
			case 5:
				score += 3
			case 4:
				score++
			}
		}
		if l := len([]rune(s.AIResponse)); l > 100 && l < 500 {
			score += 2
		}
		if len(s.Tags) > 0 {
			score++
		}
		list = append(list, scored{score, s})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	if n > len(list) {
		n = len(list)
	}
	out := make([]Sample, 0, n)
	for _, s := range list[:n] {
		out = append(out, s.sample)
	}
	return out
}
