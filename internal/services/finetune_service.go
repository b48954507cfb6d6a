package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/providers/llm"
	"github.com/minatori/partnerai/internal/providers/training"
	mongorepo "github.com/minatori/partnerai/internal/repositories/mongo"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/userlock"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	CreateStatusSuccess          = "success"
	CreateStatusInsufficientData = "insufficient_data"

	defaultPollInterval = 5 * time.Second
	defaultMaxDuration  = 30 * time.Minute
	evalConcurrency     = 3
)

var defaultEvalPrompts = []string{
	"Hello!",
	"How are you today?",
	"Tell me something interesting.",
}

// CreateResult is the structured outcome of a create call. Insufficient
// data is a normal, informative outcome with progress counts, not an
// error.
type CreateResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ModelName     string `json:"model_name,omitempty"`
	TrainingSize  int    `json:"training_size,omitempty"`
	CurrentCount  int    `json:"current_count,omitempty"`
	RequiredCount int    `json:"required_count,omitempty"`
}

type EvalResult struct {
	Prompt   string `json:"prompt"`
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Evaluation struct {
	ModelName       string       `json:"model_name"`
	SuccessRate     float64      `json:"success_rate"`
	TotalTests      int          `json:"total_tests"`
	SuccessfulTests int          `json:"successful_tests"`
	Results         []EvalResult `json:"results"`
}

// FinetuneService owns the lifecycle of per-user custom models:
// submission, status tracking, activation, evaluation, deletion. It
// guarantees at most one in-flight training job and at most one active
// model per user.
type FinetuneService interface {
	Create(ctx context.Context, userID, baseModel string) (*CreateResult, error)
	Status(ctx context.Context, modelName string) (*models.CustomModel, error)
	List(ctx context.Context, userID string) ([]models.CustomModel, error)
	Jobs(ctx context.Context, userID string, limit int64) ([]models.TrainingJob, error)
	Activate(ctx context.Context, userID, modelName string) error
	Deactivate(ctx context.Context, userID, modelName string) error
	Active(ctx context.Context, userID string) (*models.CustomModel, error)
	Evaluate(ctx context.Context, userID, modelName string, prompts []string) (*Evaluation, error)
	Cancel(ctx context.Context, userID, modelName string) error
	Delete(ctx context.Context, userID, modelName string) error
}

// FinetuneOptions tunes the watchdog; zero values use defaults.
type FinetuneOptions struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
}

type finetuneService struct {
	registry  pgrepo.ModelRepo
	jobs      mongorepo.JobRepository
	readiness ReadinessService
	profiles  ProfileService
	backend   training.Backend
	provider  llm.Provider
	manager   llm.ModelManager
	locks     *userlock.Keyed
	log       *logrus.Logger

	pollInterval time.Duration
	maxDuration  time.Duration
}

func NewFinetuneService(
	registry pgrepo.ModelRepo,
	jobs mongorepo.JobRepository,
	readiness ReadinessService,
	profiles ProfileService,
	backend training.Backend,
	provider llm.Provider,
	manager llm.ModelManager,
	locks *userlock.Keyed,
	log *logrus.Logger,
	opts FinetuneOptions,
) FinetuneService {
	if locks == nil {
		locks = userlock.New()
	}
	if log == nil {
		log = logrus.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = defaultMaxDuration
	}
	return &finetuneService{
		registry:     registry,
		jobs:         jobs,
		readiness:    readiness,
		profiles:     profiles,
		backend:      backend,
		provider:     provider,
		manager:      manager,
		locks:        locks,
		log:          log,
		pollInterval: opts.PollInterval,
		maxDuration:  opts.MaxDuration,
	}
}

// Create re-validates readiness at call time, reserves the user's
// training slot, submits the curated dataset, and returns without
// waiting for the job.
func (s *finetuneService) Create(ctx context.Context, userID, baseModel string) (*CreateResult, error) {
	const op = "FinetuneService.Create"

	if userID == "" || baseModel == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and base_model are required", nil)
	}

	// The slot reservation (conflict check + registry insert) happens
	// under the user lock; backend submission does not.
	unlock := s.locks.Lock(userID)

	inFlight, err := s.registry.HasTraining(ctx, userID)
	if err != nil {
		unlock()
		return nil, utils.E(utils.CodeInternal, op, "failed to check training state", err)
	}
	if inFlight {
		unlock()
		return nil, utils.E(utils.CodeConflict, op, "a training job is already in progress for this user", nil)
	}

	status, err := s.readiness.Check(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	if !status.Ready {
		unlock()
		return &CreateResult{
			Status: CreateStatusInsufficientData,
			Message: fmt.Sprintf("not enough training data: %d of %d required conversations",
				status.UsableForTraining, status.Required),
			CurrentCount:  status.UsableForTraining,
			RequiredCount: status.Required,
		}, nil
	}

	trainingSet, err := s.readiness.TrainingSet(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}

	now := time.Now().UTC()
	model := &models.CustomModel{
		ModelName:    models.CustomModelName(userID, baseModel, now),
		UserID:       userID,
		BaseModel:    baseModel,
		TrainingSize: len(trainingSet),
		Status:       models.ModelStatusTraining,
		CreatedAt:    now,
	}
	if err := s.registry.Insert(ctx, model); err != nil {
		unlock()
		return nil, utils.E(utils.CodeInternal, op, "failed to register model", err)
	}
	unlock()

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		profile = models.DefaultProfile(userID)
	}
	ds := buildDataset(userID, trainingSet, profile)

	jobID, err := s.backend.Submit(ctx, ds, baseModel, model.ModelName)
	if err != nil {
		s.failModel(model.ModelName, "", "submission failed: "+err.Error())
		return nil, utils.E(utils.CodeUnavailable, op, "failed to submit training job", err)
	}

	model.JobID = jobID
	if err := s.registry.SetJobID(ctx, model.ModelName, jobID); err != nil {
		s.log.WithField("model", model.ModelName).WithError(err).Warn("failed to record job id")
	}

	if s.jobs != nil {
		job := &models.TrainingJob{
			JobID:       jobID,
			UserID:      userID,
			ModelName:   model.ModelName,
			BaseModel:   baseModel,
			DatasetSize: len(trainingSet),
			Status:      models.JobStatusRunning,
			SubmittedAt: now,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			s.log.WithField("job_id", jobID).WithError(err).Warn("failed to record training job")
		}
	}

	go s.watch(model.ModelName, jobID, now)

	return &CreateResult{
		Status:       CreateStatusSuccess,
		Message:      "training started: " + model.ModelName,
		ModelName:    model.ModelName,
		TrainingSize: len(trainingSet),
	}, nil
}

// watch polls the backend until the job reaches a terminal state or
// exceeds the maximum duration, in which case it is force-failed and the
// user's training slot released regardless of backend responsiveness.
func (s *finetuneService) watch(modelName, jobID string, startedAt time.Time) {
	ctx := context.Background()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Since(startedAt) > s.maxDuration {
			_ = s.backend.Cancel(ctx, jobID)
			s.failModel(modelName, jobID, "training exceeded maximum duration")
			return
		}

		status, errSummary, err := s.backend.Poll(ctx, jobID)
		if err != nil {
			s.log.WithField("job_id", jobID).WithError(err).Warn("training poll failed")
			continue
		}
		if s.jobs != nil {
			_ = s.jobs.TouchPolled(ctx, jobID, time.Now().UTC())
		}

		switch status {
		case training.StatusSucceeded:
			_ = s.registry.UpdateStatus(ctx, modelName, models.ModelStatusReady, "")
			if s.jobs != nil {
				_ = s.jobs.SetStatus(ctx, jobID, models.JobStatusSucceeded, "")
			}
			s.log.WithFields(logrus.Fields{"model": modelName, "job_id": jobID}).
				Info("custom model ready")
			return
		case training.StatusFailed:
			s.failModel(modelName, jobID, errSummary)
			return
		case training.StatusCancelled:
			s.failModel(modelName, jobID, "training cancelled")
			return
		}
	}
}

func (s *finetuneService) failModel(modelName, jobID, summary string) {
	ctx := context.Background()
	if summary == "" {
		summary = "training failed"
	}
	_ = s.registry.UpdateStatus(ctx, modelName, models.ModelStatusFailed, summary)
	if s.jobs != nil && jobID != "" {
		_ = s.jobs.SetStatus(ctx, jobID, models.JobStatusFailed, summary)
	}
	s.log.WithFields(logrus.Fields{"model": modelName, "job_id": jobID, "reason": summary}).
		Warn("custom model training failed")
}

func (s *finetuneService) Status(ctx context.Context, modelName string) (*models.CustomModel, error) {
	const op = "FinetuneService.Status"

	model, err := s.registry.GetByName(ctx, modelName)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "model not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get model", err)
	}
	return model, nil
}

func (s *finetuneService) List(ctx context.Context, userID string) ([]models.CustomModel, error) {
	const op = "FinetuneService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, err := s.registry.ListByUser(ctx, userID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list models", err)
	}
	return rows, nil
}

// Jobs returns the user's training job trail, newest submission first.
func (s *finetuneService) Jobs(ctx context.Context, userID string, limit int64) ([]models.TrainingJob, error) {
	const op = "FinetuneService.Jobs"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if s.jobs == nil {
		return nil, nil
	}
	rows, err := s.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list training jobs", err)
	}
	return rows, nil
}

// Activate swaps the user's active model atomically: no reader ever
// observes two active models.
func (s *finetuneService) Activate(ctx context.Context, userID, modelName string) error {
	const op = "FinetuneService.Activate"

	model, err := s.ownedModel(ctx, op, userID, modelName)
	if err != nil {
		return err
	}
	if model.Status != models.ModelStatusReady {
		return utils.E(utils.CodeConflict, op, "only ready models can be activated", nil)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.registry.ActivateSwap(ctx, userID, modelName); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "model not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to activate model", err)
	}
	return nil
}

func (s *finetuneService) Deactivate(ctx context.Context, userID, modelName string) error {
	const op = "FinetuneService.Deactivate"

	if _, err := s.ownedModel(ctx, op, userID, modelName); err != nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.registry.Deactivate(ctx, modelName); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "model not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to deactivate model", err)
	}
	return nil
}

// Active returns the user's active custom model, or nil when the user is
// served by the base model.
func (s *finetuneService) Active(ctx context.Context, userID string) (*models.CustomModel, error) {
	const op = "FinetuneService.Active"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	model, err := s.registry.GetActive(ctx, userID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get active model", err)
	}
	return model, nil
}

// Evaluate sends each prompt to the model and reports per-prompt results
// and the overall success rate. It never mutates model status.
func (s *finetuneService) Evaluate(ctx context.Context, userID, modelName string, prompts []string) (*Evaluation, error) {
	const op = "FinetuneService.Evaluate"

	if _, err := s.ownedModel(ctx, op, userID, modelName); err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		prompts = defaultEvalPrompts
	}

	results := make([]EvalResult, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(evalConcurrency)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			resp, err := s.provider.Complete(gctx, modelName, []llm.Message{
				{Role: "user", Content: prompt},
			})
			if err != nil {
				results[i] = EvalResult{Prompt: prompt, Success: false, Error: err.Error()}
				return nil
			}
			results[i] = EvalResult{Prompt: prompt, Success: true, Response: truncateRunes(resp, 200)}
			return nil
		})
	}
	_ = g.Wait()

	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	return &Evaluation{
		ModelName:       modelName,
		SuccessRate:     float64(successes) / float64(len(prompts)),
		TotalTests:      len(prompts),
		SuccessfulTests: successes,
		Results:         results,
	}, nil
}

// Cancel stops an in-flight training job and marks the model failed,
// freeing the user's training slot.
func (s *finetuneService) Cancel(ctx context.Context, userID, modelName string) error {
	const op = "FinetuneService.Cancel"

	model, err := s.ownedModel(ctx, op, userID, modelName)
	if err != nil {
		return err
	}
	if model.Status != models.ModelStatusTraining {
		return utils.E(utils.CodeConflict, op, "model is not training", nil)
	}

	if model.JobID != "" {
		if err := s.backend.Cancel(ctx, model.JobID); err != nil {
			s.log.WithField("job_id", model.JobID).WithError(err).Warn("backend cancel failed")
		}
		if s.jobs != nil {
			_ = s.jobs.SetStatus(ctx, model.JobID, models.JobStatusCancelled, "cancelled by user")
		}
	}
	if err := s.registry.UpdateStatus(ctx, modelName, models.ModelStatusFailed, "cancelled by user"); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update model status", err)
	}
	return nil
}

// Delete removes a custom model. Training models must be cancelled
// first. Deleting the active model reverts the user to the base model; no
// replacement is auto-selected.
func (s *finetuneService) Delete(ctx context.Context, userID, modelName string) error {
	const op = "FinetuneService.Delete"

	model, err := s.ownedModel(ctx, op, userID, modelName)
	if err != nil {
		return err
	}
	if model.Status == models.ModelStatusTraining {
		return utils.E(utils.CodeConflict, op, "training in progress; cancel the job first", nil)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.registry.Delete(ctx, modelName); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "model not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete model", err)
	}

	// Removing the built model from the inference host is best effort;
	// the registry row is already gone.
	if s.manager != nil && model.Status == models.ModelStatusReady {
		if err := s.manager.DeleteModel(ctx, modelName); err != nil {
			s.log.WithField("model", modelName).WithError(err).Warn("failed to delete model from inference host")
		}
	}
	return nil
}

func (s *finetuneService) ownedModel(ctx context.Context, op, userID, modelName string) (*models.CustomModel, error) {
	if userID == "" || modelName == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and model_name are required", nil)
	}
	model, err := s.registry.GetByName(ctx, modelName)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "model not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get model", err)
	}
	// A model belonging to someone else is indistinguishable from a
	// missing one.
	if model.UserID != userID {
		return nil, utils.E(utils.CodeNotFound, op, "model not found", nil)
	}
	return model, nil
}

func buildDataset(userID string, convs []models.Conversation, profile *models.UserProfile) training.Dataset {
	samples := make([]training.Sample, 0, len(convs))
	for _, c := range convs {
		samples = append(samples, training.Sample{
			UserMessage: c.UserMessage,
			AIResponse:  c.AIResponse,
			Rating:      c.Rating,
			Tags:        []string(c.Tags),
		})
	}
	return training.Dataset{
		UserID:      userID,
		Samples:     samples,
		Tone:        profile.Tone,
		Interests:   []string(profile.Interests),
		Preferences: []string(profile.Preferences),
		Memories:    profile.MemoryList(),
	}
}
