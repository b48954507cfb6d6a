package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/minatori/partnerai/internal/events"
	"github.com/minatori/partnerai/internal/models"
	"github.com/minatori/partnerai/internal/providers/llm"
	"github.com/minatori/partnerai/internal/providers/training"
	pgrepo "github.com/minatori/partnerai/internal/repositories/postgres"
	"github.com/minatori/partnerai/internal/utils"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// In-memory test doubles for the repository and provider interfaces.

type fakeConvRepo struct {
	mu   sync.Mutex
	rows []models.Conversation
}

func (f *fakeConvRepo) Insert(_ context.Context, conv *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *conv)
	return nil
}

func (f *fakeConvRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			row := f.rows[i]
			return &row, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeConvRepo) LatestN(_ context.Context, userID string, n int) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.byUser(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (f *fakeConvRepo) ListSince(_ context.Context, userID string, since time.Time) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, row := range f.byUser(userID) {
		if row.Timestamp.After(since) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeConvRepo) ListRated(_ context.Context, userID string, minRating, limit int) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, row := range f.byUser(userID) {
		if row.Rating != nil && *row.Rating >= minRating {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeConvRepo) CountByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.byUser(userID))), nil
}

func (f *fakeConvRepo) UpdateRating(_ context.Context, id string, rating int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			r := rating
			f.rows[i].Rating = &r
			f.rows[i].Comment = comment
			return nil
		}
	}
	return utils.ErrNotFound
}

func (f *fakeConvRepo) UpdateTags(_ context.Context, id string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Tags = pq.StringArray(tags)
			return nil
		}
	}
	return utils.ErrNotFound
}

func (f *fakeConvRepo) Stats(_ context.Context, userID string) (*pgrepo.ConversationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.byUser(userID)

	stats := &pgrepo.ConversationStats{TotalConversations: int64(len(rows))}
	sum, rated := 0, 0
	modelCounts := map[string]int{}
	for _, row := range rows {
		if row.Rating != nil {
			sum += *row.Rating
			rated++
		}
		modelCounts[row.ModelUsed]++
	}
	if rated > 0 {
		stats.AverageRating = float64(sum) / float64(rated)
	}
	best := 0
	for model, count := range modelCounts {
		if count > best {
			best = count
			stats.MostUsedModel = model
		}
	}
	return stats, nil
}

func (f *fakeConvRepo) byUser(userID string) []models.Conversation {
	var out []models.Conversation
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]models.UserProfile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[string]models.UserProfile{}}
}

func (f *fakeProfileRepo) GetByUserID(_ context.Context, userID string) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfileRepo) Upsert(_ context.Context, p *models.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = *p
	return nil
}

func (f *fakeProfileRepo) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, userID)
	return nil
}

type fakeMemoryRepo struct {
	mu      sync.Mutex
	entries map[string]models.MemoryEntry // by conversation id
	results []pgrepo.ScoredMemory         // canned Search output
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{entries: map[string]models.MemoryEntry{}}
}

func (f *fakeMemoryRepo) Upsert(_ context.Context, entry *models.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ConversationID] = *entry
	return nil
}

func (f *fakeMemoryRepo) Search(_ context.Context, _ string, _ pgvector.Vector, limit int) ([]pgrepo.ScoredMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.results
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMemoryRepo) CountByUser(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

// fakeEmbedder returns canned vectors per text, or a fixed default.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

type fakeAnalyzer struct {
	fn func(userMessage, aiResponse string) (*Analysis, error)
}

func (f *fakeAnalyzer) Analyze(_ context.Context, userMessage, aiResponse string) (*Analysis, error) {
	if f.fn == nil {
		return defaultAnalysis(), nil
	}
	return f.fn(userMessage, aiResponse)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Event, len(f.events))
	copy(out, f.events)
	return out
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(model string, messages []llm.Message) (string, error)
}

func (f *fakeProvider) Complete(_ context.Context, model string, messages []llm.Message) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return "ok", nil
	}
	return f.fn(model, messages)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBackend struct {
	mu        sync.Mutex
	submits   int
	cancelled []string
	status    training.Status
	errText   string
	submitErr error
}

func (f *fakeBackend) Submit(_ context.Context, _ training.Dataset, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	return "job-1", nil
}

func (f *fakeBackend) Poll(_ context.Context, _ string) (training.Status, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == "" {
		return training.StatusRunning, "", nil
	}
	return f.status, f.errText, nil
}

func (f *fakeBackend) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeBackend) setStatus(s training.Status, errText string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
	f.errText = errText
}

type fakeModelRepo struct {
	mu     sync.Mutex
	byName map[string]models.CustomModel
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{byName: map[string]models.CustomModel{}}
}

func (f *fakeModelRepo) Insert(_ context.Context, m *models.CustomModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[m.ModelName] = *m
	return nil
}

func (f *fakeModelRepo) GetByName(_ context.Context, modelName string) (*models.CustomModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[modelName]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &m, nil
}

func (f *fakeModelRepo) ListByUser(_ context.Context, userID string) ([]models.CustomModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CustomModel
	for _, m := range f.byName {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeModelRepo) GetActive(_ context.Context, userID string) (*models.CustomModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.byName {
		if m.UserID == userID && m.IsActive {
			return &m, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeModelRepo) HasTraining(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.byName {
		if m.UserID == userID && m.Status == models.ModelStatusTraining {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeModelRepo) UpdateStatus(_ context.Context, modelName, status, errorSummary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[modelName]
	if !ok {
		return utils.ErrNotFound
	}
	m.Status = status
	m.ErrorSummary = errorSummary
	f.byName[modelName] = m
	return nil
}

func (f *fakeModelRepo) SetJobID(_ context.Context, modelName, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[modelName]
	if !ok {
		return utils.ErrNotFound
	}
	m.JobID = jobID
	f.byName[modelName] = m
	return nil
}

func (f *fakeModelRepo) ActivateSwap(_ context.Context, userID, modelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.byName[modelName]
	if !ok || target.UserID != userID {
		return utils.ErrNotFound
	}
	for name, m := range f.byName {
		if m.UserID == userID && m.IsActive {
			m.IsActive = false
			f.byName[name] = m
		}
	}
	target.IsActive = true
	f.byName[modelName] = target
	return nil
}

func (f *fakeModelRepo) Deactivate(_ context.Context, modelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[modelName]
	if !ok {
		return utils.ErrNotFound
	}
	m.IsActive = false
	f.byName[modelName] = m
	return nil
}

func (f *fakeModelRepo) Delete(_ context.Context, modelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[modelName]; !ok {
		return utils.ErrNotFound
	}
	delete(f.byName, modelName)
	return nil
}

func (f *fakeModelRepo) activeCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.byName {
		if m.UserID == userID && m.IsActive {
			n++
		}
	}
	return n
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs []models.TrainingJob
}

func (f *fakeJobRepo) Create(_ context.Context, j *models.TrainingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now().UTC()
	}
	f.jobs = append(f.jobs, *j)
	return nil
}

func (f *fakeJobRepo) ListByUser(_ context.Context, userID string, limit int64) ([]models.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []models.TrainingJob
	for _, j := range f.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobRepo) SetStatus(_ context.Context, jobID, status, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].JobID == jobID {
			f.jobs[i].Status = status
			f.jobs[i].Error = errText
			return nil
		}
	}
	return utils.ErrNotFound
}

func (f *fakeJobRepo) TouchPolled(_ context.Context, jobID string, polledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].JobID == jobID {
			at := polledAt.UTC()
			f.jobs[i].LastPolled = &at
		}
	}
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	gets int
	dels int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	b, ok := f.data[key]
	if !ok {
		return false, nil
	}
	f.hits++
	return true, json.Unmarshal(b, dst)
}

func (f *fakeCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.data[key] = b
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
		f.dels++
	}
	return nil
}
