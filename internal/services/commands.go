package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/models"
)

// Command names shared by the HTTP and websocket transports. They are also the
// dedup operation names.
const (
	CommandValidateImage  = "validate_image"
	CommandGenerateImages = "generate_images"
	CommandReimagine      = "reimagine"
	CommandRegenerate     = "regenerate"
)

const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// SubmitValidateImage runs validation synchronously. A repeat of the same photo
// for the same project inside the dedup window returns ErrDuplicate.
func (o *Orchestrator) SubmitValidateImage(ctx context.Context, actorID string, req models.ValidateImageRequest) (*models.ValidateImageResponse, error) {
	if !o.dedup.ShouldProceed(ctx, actorID, CommandValidateImage, req.ImageURL, req.ProjectID) {
		return nil, apperrors.ErrDuplicate
	}
	return o.ValidateImage(ctx, actorID, req)
}

// SubmitGenerateImages checks the project exists and starts image generation in
// the background.
func (o *Orchestrator) SubmitGenerateImages(ctx context.Context, actorID string, projectID uuid.UUID, suggestionIDs []uuid.UUID) (string, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return "", err
	}

	parts := append([]string{projectID.String()}, idStrings(suggestionIDs)...)
	if !o.dedup.ShouldProceed(ctx, actorID, CommandGenerateImages, parts...) {
		return StatusDuplicate, nil
	}

	o.tasks.Go(CommandGenerateImages, func(ctx context.Context) error {
		return o.GenerateImagesForSuggestions(ctx, projectID, suggestionIDs)
	})
	return StatusAccepted, nil
}

// SubmitReimagine authorizes the actor up front so a forbidden request fails
// synchronously, then re-imagines in the background.
func (o *Orchestrator) SubmitReimagine(ctx context.Context, actorID string, projectID, suggestionID uuid.UUID) (string, error) {
	if _, _, err := o.authorizeReimagine(ctx, actorID, projectID, suggestionID); err != nil {
		return "", err
	}

	if !o.dedup.ShouldProceed(ctx, actorID, CommandReimagine, projectID.String(), suggestionID.String()) {
		return StatusDuplicate, nil
	}

	o.tasks.Go(CommandReimagine, func(ctx context.Context) error {
		return o.UpdateAndReimagineSuggestion(ctx, actorID, projectID, suggestionID)
	})
	return StatusAccepted, nil
}

// SubmitRegenerate re-runs suggestion generation for a project in the background.
func (o *Orchestrator) SubmitRegenerate(ctx context.Context, actorID string, projectID uuid.UUID) (string, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return "", err
	}

	images, err := o.store.ListProjectImages(ctx, projectID, true)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", apperrors.ErrNoValidImages
	}

	if !o.dedup.ShouldProceed(ctx, actorID, CommandRegenerate, projectID.String()) {
		return StatusDuplicate, nil
	}

	o.tasks.Go(CommandRegenerate, func(ctx context.Context) error {
		return o.GenerateSuggestions(ctx, projectID)
	})
	return StatusAccepted, nil
}

// Status reports whether a batch is running and each suggestion's progress flags.
func (o *Orchestrator) Status(ctx context.Context, projectID uuid.UUID) (*models.StatusResponse, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	running, err := o.locks.ExecutionRunning(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution marker: %w", err)
	}

	suggestions, err := o.store.ListSuggestions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	resp := &models.StatusResponse{
		ProjectID:         projectID.String(),
		GenerationRunning: running,
		Suggestions:       make([]models.SuggestionStatus, 0, len(suggestions)),
		UpdatedAt:         o.now(),
	}
	for _, s := range suggestions {
		resp.Suggestions = append(resp.Suggestions, models.SuggestionStatus{
			ID:           s.ID.String(),
			Title:        s.Title,
			IsEstimating: s.IsEstimating,
			IsUpscaling:  s.Images.Status.IsUpscaling,
			IsGenerating: s.Images.Status.IsGenerating,
			Generated:    len(s.Images.Generated),
			LastError:    s.Images.Status.LastError,
		})
	}
	return resp, nil
}

// ParseSuggestionIDs parses ids, ignoring blanks.
func ParseSuggestionIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid suggestion id %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// idStrings returns sorted ids so the dedup key ignores request order.
func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}
