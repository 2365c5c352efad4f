package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/leonardo"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/notify"
)

// apply folds events into the stored image state under the row lock, then
// notifies the project room. s is updated with the stored result.
func (o *Orchestrator) apply(ctx context.Context, s *models.ProjectSuggestion, events ...ImageEvent) error {
	at := o.now()
	updated, err := o.store.UpdateSuggestionImages(ctx, s.ID, func(state models.SuggestionImages) models.SuggestionImages {
		for _, e := range events {
			if e.At.IsZero() {
				e.At = at
			}
			state = ApplyImageEvent(state, e)
		}
		return state
	})
	if err != nil {
		return fmt.Errorf("failed to update images for suggestion %s: %w", s.ID, err)
	}
	s.Images = updated.Images

	o.notify(ctx, s.ProjectID, notify.ReasonImagesUpdated)
	return nil
}

// runSuggestionImages upscales the source if needed and renders one image for s.
// It runs only while holding the suggestion's lock; when another actor holds it
// the call returns nil. Agent calls share a deadline inside the lock's TTL so the
// outcome is recorded and the lock released before it can expire. prepare, when
// set, runs under the lock before the attempt and marks the attempt as a re-imagine.
func (o *Orchestrator) runSuggestionImages(
	ctx context.Context,
	s *models.ProjectSuggestion,
	src sourceImage,
	prepare func(ctx context.Context, s *models.ProjectSuggestion) error,
) (err error) {
	logger := o.logger.With(
		zap.String("project_id", s.ProjectID.String()),
		zap.String("suggestion_id", s.ID.String()),
	)

	owner := uuid.NewString()
	acquired, err := o.locks.AcquireSuggestion(ctx, s.ID, owner)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debug("suggestion locked by another actor, skipping")
		return nil
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		settle := []ImageEvent{}
		// A re-imagine that failed before any attempt started still ends in an error state.
		if err != nil && prepare != nil && s.Images.Status.LastError == nil && !s.Images.InProgress() {
			settle = append(settle, ImageEvent{Kind: EventGenerationFailed, Message: err.Error()})
		}
		settle = append(settle, ImageEvent{Kind: EventSettled})
		if aerr := o.apply(cleanupCtx, s, settle...); aerr != nil {
			logger.Error("failed to settle image state", zap.Error(aerr))
		}
		if rerr := o.locks.ReleaseSuggestion(cleanupCtx, s.ID, owner); rerr != nil {
			logger.Error("failed to release suggestion lock", zap.Error(rerr))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, o.locks.AttemptBudget())
	defer cancel()

	start := []ImageEvent{{Kind: EventAttemptStarted}}
	if prepare != nil {
		if err := prepare(ctx, s); err != nil {
			return err
		}
		start = append(start, ImageEvent{Kind: EventReimagined})
	}
	source := src.ref
	start = append(start, ImageEvent{Kind: EventSourceSelected, Source: &source})
	if err := o.apply(ctx, s, start...); err != nil {
		return err
	}

	input, err := o.upscaleStep(ctx, callCtx, s, src, logger)
	if err != nil {
		return err
	}

	if err := o.apply(ctx, s, ImageEvent{Kind: EventGenerationStarted}); err != nil {
		return err
	}

	img, genErr := o.images.Generate(callCtx, leonardo.GenerateRequest{
		Prompt:       BuildImagePrompt(s),
		InitImageURL: input,
		InitStrength: o.opts.InitStrength,
		Width:        src.width,
		Height:       src.height,
	})
	if genErr == nil && (img == nil || img.URL == "") {
		genErr = errors.New("image agent returned no image")
	}
	if genErr != nil {
		o.metrics.Stage("generate", "failed")
		logger.Warn("image generation failed", zap.Error(genErr))
		if err := o.apply(ctx, s, ImageEvent{Kind: EventGenerationFailed, Message: genErr.Error()}); err != nil {
			return err
		}
		return fmt.Errorf("%w: %v", apperrors.ErrGeneration, genErr)
	}

	url := img.URL
	if o.rehoster != nil {
		url = o.rehoster.Rehost(callCtx, s.ProjectID, s.ID, "generated", img.URL)
	}
	if err := o.apply(ctx, s, ImageEvent{
		Kind: EventGenerationSucceeded,
		Generated: &models.GeneratedImage{
			URL:          url,
			GeneratedAt:  o.now(),
			GenerationID: img.GenerationID,
		},
	}); err != nil {
		return err
	}
	o.metrics.Stage("generate", "succeeded")
	logger.Info("generated suggestion image", zap.String("generation_id", img.GenerationID))
	return nil
}

// upscaleStep returns the URL generation should start from. Upscale failures
// are recorded and generation continues from the original photo. Agent calls
// use callCtx; state writes use ctx.
func (o *Orchestrator) upscaleStep(ctx, callCtx context.Context, s *models.ProjectSuggestion, src sourceImage, logger *zap.Logger) (string, error) {
	if s.Images.Upscaled.Usable() {
		o.metrics.Stage("upscale", "skipped")
		return s.Images.Upscaled.URL, o.apply(ctx, s, ImageEvent{Kind: EventUpscaleSkipped})
	}
	if src.width >= o.opts.MinUpscaleDimension && src.height >= o.opts.MinUpscaleDimension {
		o.metrics.Stage("upscale", "skipped")
		return src.ref.URL, o.apply(ctx, s, ImageEvent{Kind: EventUpscaleSkipped})
	}

	if err := o.apply(ctx, s, ImageEvent{Kind: EventUpscaleStarted}); err != nil {
		return "", err
	}

	img, upErr := o.images.Upscale(callCtx, src.ref.URL)
	if upErr == nil && (img == nil || img.URL == "") {
		upErr = errors.New("image agent returned no upscaled image")
	}
	if upErr != nil {
		o.metrics.Stage("upscale", "failed")
		logger.Warn("upscale failed, continuing with original image", zap.Error(upErr))
		msg := fmt.Errorf("%w: %v", apperrors.ErrUpscale, upErr).Error()
		return src.ref.URL, o.apply(ctx, s, ImageEvent{Kind: EventUpscaleFailed, Message: msg})
	}

	url := img.URL
	if o.rehoster != nil {
		url = o.rehoster.Rehost(callCtx, s.ProjectID, s.ID, "upscaled", img.URL)
	}
	o.metrics.Stage("upscale", "succeeded")
	return url, o.apply(ctx, s, ImageEvent{
		Kind:     EventUpscaleSucceeded,
		Upscaled: &models.ImageRef{URL: url, ID: img.ID},
	})
}
