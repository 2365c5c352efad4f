package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/dedup"
	"parkbeat-backend/internal/leonardo"
	"parkbeat-backend/internal/lock"
	"parkbeat-backend/internal/metrics"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/notify"
	"parkbeat-backend/internal/vision"
)

// SuggestionStore is the relational store the pipeline reads and writes.
type SuggestionStore interface {
	CreateDraftProject(ctx context.Context, p *models.Project) (*models.Project, error)
	GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	CreateProjectImage(ctx context.Context, img *models.ProjectImage) error
	ListProjectImages(ctx context.Context, projectID uuid.UUID, validOnly bool) ([]models.ProjectImage, error)
	ListSuggestions(ctx context.Context, projectID uuid.UUID) ([]models.ProjectSuggestion, error)
	GetSuggestion(ctx context.Context, suggestionID uuid.UUID) (*models.ProjectSuggestion, error)
	DeleteSuggestionsByProject(ctx context.Context, projectID uuid.UUID) (int64, error)
	CreateSuggestion(ctx context.Context, s *models.ProjectSuggestion) error
	SetEstimating(ctx context.Context, suggestionID uuid.UUID, estimating bool) error
	FinishEstimation(ctx context.Context, suggestionID uuid.UUID, est *models.CostEstimate) error
	UpdateSuggestionContent(ctx context.Context, suggestionID uuid.UUID, title, description string, est *models.CostEstimate) error
	UpdateSuggestionImages(ctx context.Context, suggestionID uuid.UUID, fn func(models.SuggestionImages) models.SuggestionImages) (*models.ProjectSuggestion, error)
}

type ImageAgent interface {
	Upscale(ctx context.Context, sourceURL string) (*leonardo.Image, error)
	Generate(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.Image, error)
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*models.Location, error)
}

type Publisher interface {
	Publish(ctx context.Context, projectID uuid.UUID, ev notify.Event) error
}

type Rehoster interface {
	Rehost(ctx context.Context, projectID, suggestionID uuid.UUID, kind, sourceURL string) string
	Cleanup(projectID uuid.UUID, suggestionIDs []uuid.UUID)
}

type Deps struct {
	Store     SuggestionStore
	Vision    vision.Agent
	Images    ImageAgent
	Geocoder  Geocoder
	Publisher Publisher
	Rehoster  Rehoster
	Locks     *lock.Manager
	Dedup     *dedup.Service
	Tasks     *TaskRunner
	Pool      *WorkerPool
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Options struct {
	MaxSuggestions      int
	MinUpscaleDimension int
	// InitStrength is how closely generated images follow the source photo.
	InitStrength float64
	// StaleAfter is how long an in-progress flag may sit untouched, with no lock
	// held, before the suggestion is treated as idle again.
	StaleAfter time.Duration
}

type Orchestrator struct {
	store     SuggestionStore
	vision    vision.Agent
	images    ImageAgent
	geocoder  Geocoder
	publisher Publisher
	rehoster  Rehoster
	locks     *lock.Manager
	dedup     *dedup.Service
	tasks     *TaskRunner
	pool      *WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options

	now  func() time.Time
	pick func(n int) int
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.MaxSuggestions < 1 {
		opts.MaxSuggestions = 3
	}
	if opts.MinUpscaleDimension < 1 {
		opts.MinUpscaleDimension = 1024
	}
	if opts.InitStrength == 0 {
		opts.InitStrength = 0.5
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = deps.Locks.SuggestionTTL()
	}
	logger := deps.Logger.Named("orchestrator")
	if deps.Tasks == nil {
		deps.Tasks = NewTaskRunner(logger)
	}
	if deps.Pool == nil {
		deps.Pool = NewWorkerPool(4, logger)
	}

	return &Orchestrator{
		store:     deps.Store,
		vision:    deps.Vision,
		images:    deps.Images,
		geocoder:  deps.Geocoder,
		publisher: deps.Publisher,
		rehoster:  deps.Rehoster,
		locks:     deps.Locks,
		dedup:     deps.Dedup,
		tasks:     deps.Tasks,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		pick:      rand.Intn,
	}
}

// WithClock replaces the time source used for image timestamps and staleness.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithPicker replaces the random choice of source image.
func (o *Orchestrator) WithPicker(pick func(n int) int) *Orchestrator {
	o.pick = pick
	return o
}

func (o *Orchestrator) Tasks() *TaskRunner {
	return o.tasks
}

// notify broadcasts a project change with the current suggestions attached.
// Failures are logged; clients recover by re-fetching.
func (o *Orchestrator) notify(ctx context.Context, projectID uuid.UUID, reason string) {
	if o.publisher == nil {
		return
	}
	suggestions, err := o.store.ListSuggestions(ctx, projectID)
	if err != nil {
		o.logger.Warn("failed to load suggestions for notification",
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
		suggestions = nil
	}
	if err := o.publisher.Publish(ctx, projectID, notify.ProjectUpdated(projectID, reason, suggestions)); err != nil {
		o.logger.Warn("failed to publish project update",
			zap.String("project_id", projectID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// ValidateImage asks the vision agent whether the photo shows an improvable
// public space. Accepted photos are stored on a draft project and start
// suggestion generation in the background.
func (o *Orchestrator) ValidateImage(ctx context.Context, actorID string, req models.ValidateImageRequest) (*models.ValidateImageResponse, error) {
	result, err := o.vision.Validate(ctx, req.ImageURL)
	if err != nil {
		o.metrics.Stage("validate", "error")
		o.logger.Warn("image validation failed", zap.String("image_url", req.ImageURL), zap.Error(err))
		return &models.ValidateImageResponse{
			IsValid:   false,
			ProjectID: req.ProjectID,
			Error:     err.Error(),
		}, nil
	}

	resp := &models.ValidateImageResponse{
		IsValid:     result.IsValid(),
		Judgment:    string(result.Judgment),
		Description: result.Description,
		ProjectID:   req.ProjectID,
	}
	if !result.IsValid() {
		o.metrics.Stage("validate", "rejected")
		return resp, nil
	}
	o.metrics.Stage("validate", "accepted")

	project, err := o.ensureDraftProject(ctx, actorID, req)
	if err != nil {
		return nil, err
	}

	img := &models.ProjectImage{
		ProjectID: project.ID,
		ImageURL:  req.ImageURL,
		IsValid:   true,
		Analysis:  result.Description,
		Metadata: models.ImageMetadata{
			Width:    req.Width,
			Height:   req.Height,
			Location: req.Location,
		},
	}
	if err := o.store.CreateProjectImage(ctx, img); err != nil {
		return nil, err
	}
	resp.ProjectID = project.ID.String()
	resp.ImageID = img.ID.String()

	o.notify(ctx, project.ID, notify.ReasonImageAdded)

	projectID := project.ID
	o.tasks.Go("generate-suggestions", func(ctx context.Context) error {
		return o.GenerateSuggestions(ctx, projectID)
	})

	return resp, nil
}

func (o *Orchestrator) ensureDraftProject(ctx context.Context, actorID string, req models.ValidateImageRequest) (*models.Project, error) {
	var projectID uuid.UUID
	if req.ProjectID != "" {
		id, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("invalid project id %q: %w", req.ProjectID, apperrors.ErrNotFound)
		}
		project, err := o.store.GetProject(ctx, id)
		if err == nil {
			return project, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		projectID = id
	}

	draft := &models.Project{
		ID:          projectID,
		Name:        "Untitled project",
		Description: "",
		Status:      models.ProjectStatusDraft,
		CreatedBy:   actorID,
	}
	if req.Location != nil {
		draft.Latitude = req.Location.Latitude
		draft.Longitude = req.Location.Longitude
	}

	project, err := o.store.CreateDraftProject(ctx, draft)
	if err != nil {
		return nil, err
	}
	o.logger.Info("created draft project",
		zap.String("project_id", project.ID.String()),
		zap.String("created_by", actorID),
	)
	return project, nil
}

// GenerateSuggestions replaces the project's suggestions with a fresh batch,
// estimates their cost and renders an image for each. Only one run per project
// is active at a time; a concurrent call returns nil without doing anything.
func (o *Orchestrator) GenerateSuggestions(ctx context.Context, projectID uuid.UUID) error {
	images, err := o.store.ListProjectImages(ctx, projectID, true)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		o.metrics.Batch("no_images")
		return apperrors.ErrNoValidImages
	}

	executionID, ok, err := o.locks.BeginExecution(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		o.metrics.Batch("skipped")
		o.logger.Info("suggestion generation already running", zap.String("project_id", projectID.String()))
		return nil
	}

	logger := o.logger.With(
		zap.String("project_id", projectID.String()),
		zap.String("execution_id", executionID),
	)

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := o.locks.EndExecution(cleanupCtx, projectID, executionID); err != nil {
			logger.Error("failed to clear execution marker", zap.Error(err))
		}
		o.notify(cleanupCtx, projectID, notify.ReasonGenerationFinished)
	}()

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		o.metrics.Batch("failed")
		return err
	}

	location := o.locationContext(ctx, project, images)

	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.ImageURL
	}

	drafts, err := o.vision.AnalyzeMany(ctx, vision.AnalyzeRequest{
		ImageURLs:      urls,
		Location:       location,
		MaxSuggestions: o.opts.MaxSuggestions,
	})
	if err != nil {
		o.metrics.Batch("failed")
		return fmt.Errorf("failed to analyze project images: %w", err)
	}

	active, err := o.locks.ExecutionActive(ctx, projectID, executionID)
	if err != nil {
		o.metrics.Batch("failed")
		return err
	}
	if !active {
		o.metrics.Batch("superseded")
		logger.Warn("execution marker taken over, discarding results")
		return apperrors.ErrExecutionSuperseded
	}

	previous, err := o.store.ListSuggestions(ctx, projectID)
	if err != nil {
		o.metrics.Batch("failed")
		return err
	}
	if _, err := o.store.DeleteSuggestionsByProject(ctx, projectID); err != nil {
		o.metrics.Batch("failed")
		return err
	}
	o.notify(ctx, projectID, notify.ReasonSuggestionsCleared)
	if o.rehoster != nil && len(previous) > 0 {
		ids := make([]uuid.UUID, len(previous))
		for i := range previous {
			ids[i] = previous[i].ID
		}
		o.rehoster.Cleanup(projectID, ids)
	}

	created := make([]*models.ProjectSuggestion, 0, len(drafts))
	for _, d := range drafts {
		s := &models.ProjectSuggestion{
			ProjectID:   projectID,
			Title:       d.Title,
			Description: d.Description,
			Category:    d.Category,
			ImagePrompt: d.ImagePrompt,
			Confidence:  d.Confidence,
			Status:      models.SuggestionStatusPending,
			Images:      models.SuggestionImages{Generated: []models.GeneratedImage{}},
		}
		if err := o.store.CreateSuggestion(ctx, s); err != nil {
			o.metrics.Batch("failed")
			return err
		}
		created = append(created, s)
	}
	o.notify(ctx, projectID, notify.ReasonSuggestionsCreated)
	logger.Info("created suggestions", zap.Int("count", len(created)))

	o.estimateCosts(ctx, created, images[0].ImageURL, location)
	o.generateImages(ctx, created, images)

	o.metrics.Batch("completed")
	return nil
}

// locationContext prefers a location recorded with an image and falls back to
// reverse geocoding the project's coordinates.
func (o *Orchestrator) locationContext(ctx context.Context, project *models.Project, images []models.ProjectImage) string {
	for _, img := range images {
		if desc := img.Metadata.Location.Describe(); desc != "" {
			return desc
		}
	}

	if project.Latitude == 0 && project.Longitude == 0 {
		return ""
	}
	if o.geocoder != nil {
		loc, err := o.geocoder.Reverse(ctx, project.Latitude, project.Longitude)
		if err == nil {
			if desc := loc.Describe(); desc != "" {
				return desc
			}
		} else {
			o.logger.Debug("reverse geocoding failed", zap.Error(err))
		}
	}
	return (&models.Location{Latitude: project.Latitude, Longitude: project.Longitude}).Describe()
}

// estimateCosts runs one estimate per suggestion. A failed estimate leaves the
// suggestion without a cost and never stops the others.
func (o *Orchestrator) estimateCosts(ctx context.Context, suggestions []*models.ProjectSuggestion, imageURL, location string) {
	items := make([]WorkItem[*models.CostEstimate], len(suggestions))
	for i, s := range suggestions {
		s := s
		items[i] = WorkItem[*models.CostEstimate]{
			ID: s.ID.String(),
			Execute: func(ctx context.Context) (*models.CostEstimate, error) {
				return o.estimateCost(ctx, s, imageURL, location)
			},
		}
	}

	results := Process(ctx, o.pool, items)
	byID := make(map[string]*models.CostEstimate, len(results))
	for _, r := range results {
		if r.Err == nil {
			byID[r.ID] = r.Result
		}
	}
	for _, s := range suggestions {
		if est, ok := byID[s.ID.String()]; ok {
			s.EstimatedCost = est
		}
	}
}

func (o *Orchestrator) estimateCost(ctx context.Context, s *models.ProjectSuggestion, imageURL, location string) (est *models.CostEstimate, err error) {
	if err := o.store.SetEstimating(ctx, s.ID, true); err != nil {
		return nil, err
	}
	s.IsEstimating = true
	o.notify(ctx, s.ProjectID, notify.ReasonEstimateUpdated)

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if ferr := o.store.FinishEstimation(cleanupCtx, s.ID, est); ferr != nil {
			o.logger.Error("failed to finish estimation", zap.String("suggestion_id", s.ID.String()), zap.Error(ferr))
			if err == nil {
				err = ferr
			}
		}
		s.IsEstimating = false
		o.notify(cleanupCtx, s.ProjectID, notify.ReasonEstimateUpdated)
	}()

	est, err = o.vision.EstimateCost(ctx, vision.EstimateRequest{
		Title:       s.Title,
		Description: s.Description,
		Category:    s.Category,
		ImageURL:    imageURL,
		Location:    location,
	})
	if err != nil {
		o.metrics.Stage("estimate", "failed")
		o.logger.Warn("cost estimation failed, suggestion stays costless",
			zap.String("suggestion_id", s.ID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEstimation, err)
	}
	o.metrics.Stage("estimate", "succeeded")
	return est, nil
}

// sourceImage is the photo a suggestion's images are derived from.
type sourceImage struct {
	ref    models.ImageRef
	width  int
	height int
}

func sourceFromImage(img models.ProjectImage) sourceImage {
	return sourceImage{
		ref:    models.ImageRef{URL: img.ImageURL, ID: img.ID.String()},
		width:  img.Metadata.Width,
		height: img.Metadata.Height,
	}
}

// sourceFor reuses the suggestion's recorded source when there is one and
// otherwise picks one of the project's images at random.
func (o *Orchestrator) sourceFor(s *models.ProjectSuggestion, images []models.ProjectImage) sourceImage {
	if src := s.Images.Source; src != nil && src.URL != "" {
		for _, img := range images {
			if img.ImageURL == src.URL {
				return sourceFromImage(img)
			}
		}
		return sourceImage{ref: *src}
	}
	return sourceFromImage(images[o.pick(len(images))])
}

// generateImages renders every suggestion in parallel and waits for all of them.
func (o *Orchestrator) generateImages(ctx context.Context, suggestions []*models.ProjectSuggestion, images []models.ProjectImage) {
	items := make([]WorkItem[struct{}], len(suggestions))
	for i, s := range suggestions {
		s := s
		src := o.sourceFor(s, images)
		items[i] = WorkItem[struct{}]{
			ID: s.ID.String(),
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, o.runSuggestionImages(ctx, s, src, nil)
			},
		}
	}

	for _, r := range Process(ctx, o.pool, items) {
		if r.Err != nil {
			o.logger.Warn("suggestion image generation failed",
				zap.String("suggestion_id", r.ID),
				zap.Error(r.Err),
			)
		}
	}
}

// GenerateImagesForSuggestions renders images for the given suggestions, or for
// every suggestion without images when ids is empty. Suggestions that are being
// estimated or are mid-generation are skipped.
func (o *Orchestrator) GenerateImagesForSuggestions(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) error {
	images, err := o.store.ListProjectImages(ctx, projectID, true)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return apperrors.ErrNoValidImages
	}

	all, err := o.store.ListSuggestions(ctx, projectID)
	if err != nil {
		return err
	}

	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	targets := make([]*models.ProjectSuggestion, 0, len(all))
	for i := range all {
		s := &all[i]
		switch {
		case len(wanted) > 0 && !wanted[s.ID]:
			continue
		case len(wanted) == 0 && len(s.Images.Generated) > 0:
			continue
		case s.IsEstimating:
			o.logger.Debug("skipping suggestion still estimating", zap.String("suggestion_id", s.ID.String()))
			continue
		case s.Images.InProgress() && !o.isStale(ctx, s):
			o.logger.Debug("skipping suggestion mid-generation", zap.String("suggestion_id", s.ID.String()))
			continue
		}
		targets = append(targets, s)
	}

	if len(targets) == 0 {
		return nil
	}

	o.generateImages(ctx, targets, images)
	o.notify(context.WithoutCancel(ctx), projectID, notify.ReasonGenerationFinished)
	return nil
}

// isStale reports whether an in-progress suggestion was abandoned: no lock is
// held and its status has not changed for longer than StaleAfter.
func (o *Orchestrator) isStale(ctx context.Context, s *models.ProjectSuggestion) bool {
	if !s.Images.InProgress() {
		return false
	}
	locked, err := o.locks.SuggestionLocked(ctx, s.ID)
	if err != nil || locked {
		return false
	}
	updated := s.Images.Status.UpdatedAt
	return updated == nil || o.now().Sub(*updated) > o.opts.StaleAfter
}

// UpdateAndReimagineSuggestion copies the project's current title, description
// and cost onto the suggestion, discards its generated images and renders a new one.
// Only the project's creator may do this.
func (o *Orchestrator) UpdateAndReimagineSuggestion(ctx context.Context, actorID string, projectID, suggestionID uuid.UUID) error {
	project, s, err := o.authorizeReimagine(ctx, actorID, projectID, suggestionID)
	if err != nil {
		return err
	}

	images, err := o.store.ListProjectImages(ctx, projectID, true)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return apperrors.ErrNoValidImages
	}

	prepare := func(ctx context.Context, s *models.ProjectSuggestion) error {
		title, description, est := s.Title, s.Description, s.EstimatedCost
		if project.Name != "" {
			title = project.Name
		}
		if project.Description != "" {
			description = project.Description
		}
		if project.CostEstimate != nil {
			est = project.CostEstimate
		}
		if err := o.store.UpdateSuggestionContent(ctx, s.ID, title, description, est); err != nil {
			return err
		}
		s.Title, s.Description, s.EstimatedCost = title, description, est
		return nil
	}

	err = o.runSuggestionImages(ctx, s, o.sourceFor(s, images), prepare)
	if err != nil {
		o.metrics.Stage("reimagine", "failed")
		return err
	}
	o.metrics.Stage("reimagine", "succeeded")
	return nil
}

func (o *Orchestrator) authorizeReimagine(ctx context.Context, actorID string, projectID, suggestionID uuid.UUID) (*models.Project, *models.ProjectSuggestion, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project.CreatedBy != actorID {
		return nil, nil, fmt.Errorf("actor %s cannot reimagine project %s: %w", actorID, projectID, apperrors.ErrForbidden)
	}

	s, err := o.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, nil, err
	}
	if s.ProjectID != projectID {
		return nil, nil, fmt.Errorf("suggestion %s in project %s: %w", suggestionID, projectID, apperrors.ErrNotFound)
	}
	return project, s, nil
}
