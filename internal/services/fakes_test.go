package services_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/dedup"
	"parkbeat-backend/internal/kvstore"
	"parkbeat-backend/internal/leonardo"
	"parkbeat-backend/internal/lock"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/notify"
	"parkbeat-backend/internal/services"
	"parkbeat-backend/internal/vision"
)

// fakeStore is an in-memory SuggestionStore that records every image state it writes.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[uuid.UUID]*models.Project
	images      map[uuid.UUID][]models.ProjectImage
	suggestions map[uuid.UUID]*models.ProjectSuggestion
	order       []uuid.UUID
	writes      int
	history     map[uuid.UUID][]models.SuggestionImages
	estimating  map[uuid.UUID][]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    make(map[uuid.UUID]*models.Project),
		images:      make(map[uuid.UUID][]models.ProjectImage),
		suggestions: make(map[uuid.UUID]*models.ProjectSuggestion),
		history:     make(map[uuid.UUID][]models.SuggestionImages),
		estimating:  make(map[uuid.UUID][]bool),
	}
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeStore) imageHistory(id uuid.UUID) []models.SuggestionImages {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SuggestionImages, len(f.history[id]))
	copy(out, f.history[id])
	return out
}

func (f *fakeStore) estimatingHistory(id uuid.UUID) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.estimating[id]...)
}

func (f *fakeStore) seedProject(createdBy string, images ...models.ProjectImage) *models.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Project{ID: uuid.New(), Name: "Untitled project", Status: models.ProjectStatusDraft, CreatedBy: createdBy}
	f.projects[p.ID] = p
	for _, img := range images {
		if img.ID == uuid.Nil {
			img.ID = uuid.New()
		}
		img.ProjectID = p.ID
		f.images[p.ID] = append(f.images[p.ID], img)
	}
	return p
}

func (f *fakeStore) seedSuggestion(projectID uuid.UUID, title string) *models.ProjectSuggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.ProjectSuggestion{
		ID:        uuid.New(),
		ProjectID: projectID,
		Title:     title,
		Status:    models.SuggestionStatusPending,
		Images:    models.SuggestionImages{Generated: []models.GeneratedImage{}},
	}
	f.suggestions[s.ID] = s
	f.order = append(f.order, s.ID)
	cp := *s
	return &cp
}

func (f *fakeStore) setImages(id uuid.UUID, images models.SuggestionImages) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions[id].Images = images
}

func (f *fakeStore) suggestion(id uuid.UUID) models.ProjectSuggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.suggestions[id]
}

func (f *fakeStore) CreateDraftProject(_ context.Context, p *models.Project) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	f.projects[p.ID] = &cp
	return p, nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) CreateProjectImage(_ context.Context, img *models.ProjectImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	f.images[img.ProjectID] = append(f.images[img.ProjectID], *img)
	return nil
}

func (f *fakeStore) ListProjectImages(_ context.Context, projectID uuid.UUID, validOnly bool) ([]models.ProjectImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ProjectImage{}
	for _, img := range f.images[projectID] {
		if validOnly && !img.IsValid {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func (f *fakeStore) ListSuggestions(_ context.Context, projectID uuid.UUID) ([]models.ProjectSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ProjectSuggestion{}
	for _, id := range f.order {
		if s, ok := f.suggestions[id]; ok && s.ProjectID == projectID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSuggestion(_ context.Context, suggestionID uuid.UUID) (*models.ProjectSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[suggestionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) DeleteSuggestionsByProject(_ context.Context, projectID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var n int64
	kept := f.order[:0]
	for _, id := range f.order {
		if f.suggestions[id].ProjectID == projectID {
			delete(f.suggestions, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	f.order = kept
	return n, nil
}

func (f *fakeStore) CreateSuggestion(_ context.Context, s *models.ProjectSuggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	f.suggestions[s.ID] = &cp
	f.order = append(f.order, s.ID)
	return nil
}

func (f *fakeStore) SetEstimating(_ context.Context, id uuid.UUID, estimating bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.suggestions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.IsEstimating = estimating
	f.estimating[id] = append(f.estimating[id], estimating)
	return nil
}

func (f *fakeStore) FinishEstimation(_ context.Context, id uuid.UUID, est *models.CostEstimate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.suggestions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if est != nil {
		s.EstimatedCost = est
	}
	s.IsEstimating = false
	f.estimating[id] = append(f.estimating[id], false)
	return nil
}

func (f *fakeStore) UpdateSuggestionContent(_ context.Context, id uuid.UUID, title, description string, est *models.CostEstimate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.suggestions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.Title, s.Description, s.EstimatedCost = title, description, est
	return nil
}

func (f *fakeStore) UpdateSuggestionImages(
	_ context.Context,
	id uuid.UUID,
	fn func(models.SuggestionImages) models.SuggestionImages,
) (*models.ProjectSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.suggestions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	s.Images = fn(s.Images)
	f.history[id] = append(f.history[id], s.Images)
	cp := *s
	return &cp, nil
}

// fakeVision answers with canned results.
type fakeVision struct {
	judgment    vision.Judgment
	validateErr error
	drafts      []vision.SuggestionDraft
	analyzeErr  error
	// analyzeGate, when set, blocks AnalyzeMany until closed.
	analyzeGate    chan struct{}
	analyzeEntered chan struct{}
	estimateErr    func(title string) error
	analyzeCalls   atomic.Int32
}

func (v *fakeVision) Validate(_ context.Context, _ string) (*vision.Validation, error) {
	if v.validateErr != nil {
		return nil, v.validateErr
	}
	return &vision.Validation{Judgment: v.judgment, Description: "a vacant lot"}, nil
}

func (v *fakeVision) AnalyzeMany(_ context.Context, req vision.AnalyzeRequest) ([]vision.SuggestionDraft, error) {
	v.analyzeCalls.Add(1)
	if v.analyzeEntered != nil {
		close(v.analyzeEntered)
	}
	if v.analyzeGate != nil {
		<-v.analyzeGate
	}
	if v.analyzeErr != nil {
		return nil, v.analyzeErr
	}
	drafts := v.drafts
	if len(drafts) > req.MaxSuggestions {
		drafts = drafts[:req.MaxSuggestions]
	}
	return drafts, nil
}

func (v *fakeVision) EstimateCost(_ context.Context, req vision.EstimateRequest) (*models.CostEstimate, error) {
	if v.estimateErr != nil {
		if err := v.estimateErr(req.Title); err != nil {
			return nil, err
		}
	}
	return &models.CostEstimate{
		Materials: []models.CostItem{{Item: "mulch", Cost: 200}},
		Total:     200,
	}, nil
}

// fakeImages is the image agent. Upscale blocks on upscaleGate when set.
type fakeImages struct {
	upscaleErr     error
	generateErr    error
	upscaleGate    chan struct{}
	upscaleEntered chan struct{}
	enterOnce      sync.Once

	mu            sync.Mutex
	upscaleCalls  int
	generateCalls int
	initURLs      []string
	prompts       []string
}

func (f *fakeImages) Upscale(ctx context.Context, sourceURL string) (*leonardo.Image, error) {
	f.mu.Lock()
	f.upscaleCalls++
	f.mu.Unlock()

	if f.upscaleEntered != nil {
		f.enterOnce.Do(func() { close(f.upscaleEntered) })
	}
	if f.upscaleGate != nil {
		select {
		case <-f.upscaleGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.upscaleErr != nil {
		return nil, f.upscaleErr
	}
	return &leonardo.Image{ID: "up-" + uuid.NewString()[:8], URL: sourceURL + "?upscaled"}, nil
}

func (f *fakeImages) Generate(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.Image, error) {
	f.mu.Lock()
	f.generateCalls++
	f.initURLs = append(f.initURLs, req.InitImageURL)
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	id := uuid.NewString()
	return &leonardo.Image{ID: "img-" + id[:8], URL: "https://cdn.example/" + id + ".jpg", GenerationID: id}, nil
}

func (f *fakeImages) counts() (upscales, generates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upscaleCalls, f.generateCalls
}

type fakePublisher struct {
	mu      sync.Mutex
	reasons []string
}

func (p *fakePublisher) Publish(_ context.Context, _ uuid.UUID, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payload, ok := ev.Payload.(map[string]any); ok {
		if reason, ok := payload["reason"].(string); ok {
			p.reasons = append(p.reasons, reason)
		}
	}
	return nil
}

func (p *fakePublisher) seen(reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.reasons {
		if r == reason {
			return true
		}
	}
	return false
}

type harness struct {
	kv        *kvstore.MemoryStore
	store     *fakeStore
	vision    *fakeVision
	images    *fakeImages
	publisher *fakePublisher
	locks     *lock.Manager
	orch      *services.Orchestrator
}

type harnessConfig struct {
	lockTTL time.Duration
	now     func() time.Time
}

type harnessOption func(*harnessConfig)

func withLockTTL(ttl time.Duration) harnessOption {
	return func(c *harnessConfig) { c.lockTTL = ttl }
}

// withClock drives both lock expiry and the orchestrator's staleness checks.
func withClock(now func() time.Time) harnessOption {
	return func(c *harnessConfig) { c.now = now }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{lockTTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zap.NewNop()
	kv := kvstore.NewMemoryStore()
	if cfg.now != nil {
		kv = kv.WithClock(cfg.now)
	}

	h := &harness{
		kv:    kv,
		store: newFakeStore(),
		vision: &fakeVision{
			judgment: vision.JudgmentYes,
			drafts: []vision.SuggestionDraft{
				{Title: "Pocket park", Description: "Benches and shade trees", Category: models.CategoryParkImprovement, Confidence: 0.9},
				{Title: "Community garden", Description: "Raised beds", Category: models.CategoryCommunityGarden, Confidence: 0.7},
			},
		},
		images:    &fakeImages{},
		publisher: &fakePublisher{},
		locks:     lock.NewManager(kv, logger, nil, cfg.lockTTL, 30*time.Minute),
	}

	h.orch = services.NewOrchestrator(services.Deps{
		Store:     h.store,
		Vision:    h.vision,
		Images:    h.images,
		Publisher: h.publisher,
		Locks:     h.locks,
		Dedup:     dedup.NewService(kv, time.Minute, logger, nil),
		Tasks:     services.NewTaskRunner(logger),
		Pool:      services.NewWorkerPool(4, logger),
		Logger:    logger,
	}, services.Options{MaxSuggestions: 3}).WithPicker(func(int) int { return 0 })
	if cfg.now != nil {
		h.orch.WithClock(cfg.now)
	}

	return h
}

func (h *harness) waitTasks(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.orch.Tasks().Wait(ctx); err != nil {
		t.Fatalf("background tasks did not finish: %v", err)
	}
}

func smallImage(url string) models.ProjectImage {
	return models.ProjectImage{ImageURL: url, IsValid: true, Metadata: models.ImageMetadata{Width: 640, Height: 480}}
}

func largeImage(url string) models.ProjectImage {
	return models.ProjectImage{ImageURL: url, IsValid: true, Metadata: models.ImageMetadata{Width: 2048, Height: 1536}}
}

func titles(suggestions []models.ProjectSuggestion) []string {
	out := make([]string, len(suggestions))
	for i, s := range suggestions {
		out[i] = s.Title
	}
	sort.Strings(out)
	return out
}

var errVendor = errors.New("status 500: vendor exploded")

// testClock is a settable time source safe for use across goroutines.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
