package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/services"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func apply(s models.SuggestionImages, kinds ...services.ImageEvent) models.SuggestionImages {
	for _, e := range kinds {
		s = services.ApplyImageEvent(s, e)
	}
	return s
}

func assertFlagsExclusive(t *testing.T, s models.SuggestionImages) {
	t.Helper()
	assert.False(t, s.Status.IsUpscaling && s.Status.IsGenerating, "both in-progress flags set")
}

func TestApply_HappyPath(t *testing.T) {
	s := apply(models.SuggestionImages{},
		services.ImageEvent{Kind: services.EventAttemptStarted, At: t0},
		services.ImageEvent{Kind: services.EventSourceSelected, Source: &models.ImageRef{URL: "src", ID: "s1"}},
		services.ImageEvent{Kind: services.EventUpscaleStarted},
	)
	assert.True(t, s.Status.IsUpscaling)
	assertFlagsExclusive(t, s)

	s = apply(s,
		services.ImageEvent{Kind: services.EventUpscaleSucceeded, At: t0, Upscaled: &models.ImageRef{URL: "up", ID: "u1"}},
		services.ImageEvent{Kind: services.EventGenerationStarted},
	)
	assert.True(t, s.Status.IsGenerating)
	assert.False(t, s.Status.IsUpscaling)
	assert.True(t, s.Upscaled.Usable())

	s = apply(s,
		services.ImageEvent{Kind: services.EventGenerationSucceeded, Generated: &models.GeneratedImage{URL: "gen", GenerationID: "g1", GeneratedAt: t0}},
		services.ImageEvent{Kind: services.EventSettled},
	)
	require.Len(t, s.Generated, 1)
	assert.Equal(t, "g1", s.Generated[0].GenerationID)
	assert.Nil(t, s.Status.LastError)
	assert.False(t, s.InProgress())
}

func TestApply_UpscaleFailureDegrades(t *testing.T) {
	s := apply(models.SuggestionImages{},
		services.ImageEvent{Kind: services.EventUpscaleStarted},
		services.ImageEvent{Kind: services.EventUpscaleFailed, At: t0, Message: "vendor 500"},
	)

	require.NotNil(t, s.Upscaled)
	assert.Equal(t, "vendor 500", s.Upscaled.Error)
	assert.False(t, s.Upscaled.Usable())
	require.NotNil(t, s.Status.LastError)
	assert.Equal(t, models.ErrorCodeUpscale, s.Status.LastError.Code)
	assert.False(t, s.Status.IsUpscaling)

	s = apply(s, services.ImageEvent{Kind: services.EventGenerationStarted})
	assert.True(t, s.Status.IsGenerating)
	assert.Nil(t, s.Status.LastError)
	assert.Equal(t, "vendor 500", s.Upscaled.Error)
}

func TestApply_GenerationFailureKeepsGenerated(t *testing.T) {
	start := models.SuggestionImages{
		Generated: []models.GeneratedImage{{URL: "old", GenerationID: "g0"}},
	}

	s := apply(start,
		services.ImageEvent{Kind: services.EventAttemptStarted},
		services.ImageEvent{Kind: services.EventGenerationStarted},
		services.ImageEvent{Kind: services.EventGenerationFailed, At: t0, Message: "nsfw filter"},
		services.ImageEvent{Kind: services.EventSettled},
	)

	assert.Len(t, s.Generated, 1)
	require.NotNil(t, s.Status.LastError)
	assert.Equal(t, models.ErrorCodeGeneration, s.Status.LastError.Code)
	assert.Equal(t, "nsfw filter", s.Status.LastError.Message)
	assert.Equal(t, t0, s.Status.LastError.Timestamp)
	assert.False(t, s.InProgress())
}

func TestApply_AttemptStartedClearsError(t *testing.T) {
	s := models.SuggestionImages{
		Status: models.ImageStatus{LastError: &models.ImageError{Code: models.ErrorCodeGeneration}},
	}
	s = services.ApplyImageEvent(s, services.ImageEvent{Kind: services.EventAttemptStarted})
	assert.Nil(t, s.Status.LastError)
}

func TestApply_GeneratedIsAppendOnly(t *testing.T) {
	s := models.SuggestionImages{}
	for i := 0; i < 3; i++ {
		s = apply(s,
			services.ImageEvent{Kind: services.EventAttemptStarted},
			services.ImageEvent{Kind: services.EventGenerationStarted},
			services.ImageEvent{Kind: services.EventGenerationSucceeded, Generated: &models.GeneratedImage{GenerationID: string(rune('a' + i))}},
		)
	}
	require.Len(t, s.Generated, 3)
	assert.Equal(t, "a", s.Generated[0].GenerationID)
	assert.Equal(t, "c", s.Generated[2].GenerationID)
}

func TestApply_ReimaginedClearsGenerated(t *testing.T) {
	s := models.SuggestionImages{
		Source:    &models.ImageRef{URL: "src", ID: "s"},
		Generated: []models.GeneratedImage{{GenerationID: "g1"}, {GenerationID: "g2"}},
	}
	s = services.ApplyImageEvent(s, services.ImageEvent{Kind: services.EventReimagined})

	assert.Empty(t, s.Generated)
	assert.NotNil(t, s.Generated)
	assert.Equal(t, "src", s.Source.URL)
}

func TestApply_SettledMarksInterruptedRun(t *testing.T) {
	s := apply(models.SuggestionImages{},
		services.ImageEvent{Kind: services.EventGenerationStarted},
		services.ImageEvent{Kind: services.EventSettled, At: t0},
	)

	assert.False(t, s.InProgress())
	require.NotNil(t, s.Status.LastError)
	assert.Equal(t, models.ErrorCodeGeneration, s.Status.LastError.Code)
	assert.Contains(t, s.Status.LastError.Message, "interrupted")
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := models.SuggestionImages{
		Generated: []models.GeneratedImage{{GenerationID: "g1"}},
		Upscaled:  &models.UpscaledImage{URL: "u", ID: "i"},
	}
	_ = services.ApplyImageEvent(in, services.ImageEvent{Kind: services.EventReimagined})
	_ = services.ApplyImageEvent(in, services.ImageEvent{Kind: services.EventUpscaleFailed, Message: "x"})

	assert.Len(t, in.Generated, 1)
	assert.Equal(t, "u", in.Upscaled.URL)
	assert.Nil(t, in.Status.UpdatedAt)
}

func TestApply_FlagsNeverBothTrue(t *testing.T) {
	kinds := []services.ImageEventKind{
		services.EventUpscaleStarted,
		services.EventGenerationStarted,
		services.EventUpscaleStarted,
		services.EventUpscaleSkipped,
		services.EventGenerationStarted,
		services.EventSettled,
	}
	s := models.SuggestionImages{}
	for _, k := range kinds {
		s = services.ApplyImageEvent(s, services.ImageEvent{Kind: k})
		assertFlagsExclusive(t, s)
		assert.NotEqual(t, "unknown", k.String())
	}
}
