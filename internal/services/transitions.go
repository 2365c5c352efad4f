package services

import (
	"time"

	"parkbeat-backend/internal/models"
)

type ImageEventKind int

const (
	// EventAttemptStarted opens a new attempt and clears the previous error.
	EventAttemptStarted ImageEventKind = iota
	EventSourceSelected
	EventUpscaleStarted
	EventUpscaleSucceeded
	EventUpscaleFailed
	EventUpscaleSkipped
	EventGenerationStarted
	EventGenerationSucceeded
	EventGenerationFailed
	// EventReimagined discards generated images before a fresh attempt.
	EventReimagined
	// EventSettled runs on every exit path and forces the in-progress flags off.
	EventSettled
)

func (k ImageEventKind) String() string {
	switch k {
	case EventAttemptStarted:
		return "attempt_started"
	case EventSourceSelected:
		return "source_selected"
	case EventUpscaleStarted:
		return "upscale_started"
	case EventUpscaleSucceeded:
		return "upscale_succeeded"
	case EventUpscaleFailed:
		return "upscale_failed"
	case EventUpscaleSkipped:
		return "upscale_skipped"
	case EventGenerationStarted:
		return "generation_started"
	case EventGenerationSucceeded:
		return "generation_succeeded"
	case EventGenerationFailed:
		return "generation_failed"
	case EventReimagined:
		return "reimagined"
	case EventSettled:
		return "settled"
	}
	return "unknown"
}

type ImageEvent struct {
	Kind      ImageEventKind
	At        time.Time
	Source    *models.ImageRef
	Upscaled  *models.ImageRef
	Generated *models.GeneratedImage
	Message   string
}

// ApplyImageEvent is the only place suggestion image state changes.
// It never mutates its input.
func ApplyImageEvent(state models.SuggestionImages, e ImageEvent) models.SuggestionImages {
	next := cloneImages(state)
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch e.Kind {
	case EventAttemptStarted:
		next.Status.LastError = nil
		next.Status.IsUpscaling = false
		next.Status.IsGenerating = false

	case EventSourceSelected:
		if e.Source != nil {
			src := *e.Source
			next.Source = &src
		}

	case EventUpscaleStarted:
		next.Status.IsUpscaling = true
		next.Status.IsGenerating = false

	case EventUpscaleSucceeded:
		next.Status.IsUpscaling = false
		if e.Upscaled != nil {
			upscaledAt := at
			next.Upscaled = &models.UpscaledImage{URL: e.Upscaled.URL, ID: e.Upscaled.ID, UpscaledAt: &upscaledAt}
		}

	case EventUpscaleFailed:
		next.Status.IsUpscaling = false
		next.Upscaled = &models.UpscaledImage{Error: e.Message}
		next.Status.LastError = &models.ImageError{
			Code:      models.ErrorCodeUpscale,
			Message:   e.Message,
			Timestamp: at,
		}

	case EventUpscaleSkipped:
		next.Status.IsUpscaling = false

	case EventGenerationStarted:
		next.Status.IsUpscaling = false
		next.Status.IsGenerating = true
		next.Status.LastError = nil

	case EventGenerationSucceeded:
		next.Status.IsGenerating = false
		next.Status.LastError = nil
		if e.Generated != nil {
			next.Generated = append(next.Generated, *e.Generated)
		}

	case EventGenerationFailed:
		next.Status.IsGenerating = false
		next.Status.LastError = &models.ImageError{
			Code:      models.ErrorCodeGeneration,
			Message:   e.Message,
			Timestamp: at,
		}

	case EventReimagined:
		next.Generated = []models.GeneratedImage{}
		next.Status.LastError = nil
		next.Status.IsUpscaling = false
		next.Status.IsGenerating = false

	case EventSettled:
		if next.InProgress() {
			msg := e.Message
			if msg == "" {
				msg = "image generation was interrupted"
			}
			next.Status.LastError = &models.ImageError{
				Code:      models.ErrorCodeGeneration,
				Message:   msg,
				Timestamp: at,
			}
		}
		next.Status.IsUpscaling = false
		next.Status.IsGenerating = false
	}

	next.Status.UpdatedAt = &at
	return next
}

func cloneImages(s models.SuggestionImages) models.SuggestionImages {
	out := s
	if s.Source != nil {
		src := *s.Source
		out.Source = &src
	}
	if s.Upscaled != nil {
		up := *s.Upscaled
		out.Upscaled = &up
	}
	out.Generated = make([]models.GeneratedImage, len(s.Generated))
	copy(out.Generated, s.Generated)
	if s.Status.LastError != nil {
		le := *s.Status.LastError
		out.Status.LastError = &le
	}
	return out
}
