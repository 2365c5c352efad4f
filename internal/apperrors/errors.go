package apperrors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrNoValidImages = errors.New("project has no validated images")
	ErrDuplicate     = errors.New("duplicate request")

	// ErrLockContention means another actor holds the lock. Callers treat it as a no-op.
	ErrLockContention = errors.New("lock held by another actor")
	// ErrExecutionSuperseded means the generation marker no longer belongs to this run.
	ErrExecutionSuperseded = errors.New("generation execution superseded")

	ErrValidation = errors.New("image validation failed")
	ErrUpscale    = errors.New("image upscale failed")
	ErrGeneration = errors.New("image generation failed")
	ErrEstimation = errors.New("cost estimation failed")
)
