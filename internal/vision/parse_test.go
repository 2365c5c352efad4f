package vision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/vision"
)

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		judgment vision.Judgment
		desc     string
	}{
		{"json", `{"judgment":"yes","description":"A vacant corner lot."}`, vision.JudgmentYes, "A vacant corner lot."},
		{"fenced json", "```json\n{\"judgment\":\"MAYBE\",\"description\":\"Private yard?\"}\n```", vision.JudgmentMaybe, "Private yard?"},
		{"line", "NO: this is an indoor kitchen", vision.JudgmentNo, "this is an indoor kitchen"},
		{"bold line", "**YES** - wide sidewalk with empty tree pits", vision.JudgmentYes, "wide sidewalk with empty tree pits"},
		{"description on next line", "Answer\nMAYBE\nHard to tell from the angle.", vision.JudgmentMaybe, "Hard to tell from the angle."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			v, err := vision.ParseValidation(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.judgment, v.Judgment)
			assert.Equal(t, tt.desc, v.Description)
		})
	}
}

func TestParseValidation_ProseIsNotAVerdict(t *testing.T) {
	_, err := vision.ParseValidation("No trees are visible in the picture.")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestValidation_IsValid(t *testing.T) {
	assert.True(t, vision.Validation{Judgment: vision.JudgmentYes}.IsValid())
	assert.True(t, vision.Validation{Judgment: vision.JudgmentMaybe}.IsValid())
	assert.False(t, vision.Validation{Judgment: vision.JudgmentNo}.IsValid())
}

func TestParseSuggestions(t *testing.T) {
	reply := `Here you go:
{"suggestions": [
  {"title": "Pocket Garden", "description": "Raised beds", "category": "community garden", "image_prompt": "raised beds", "confidence": 0.9},
  {"title": "", "description": "dropped"},
  {"title": "Mural", "description": "Paint the wall", "category": "PUBLIC_ART", "imagePrompt": "colorful mural", "confidence": 85},
  {"title": "Bike Racks", "category": "transport"},
  {"title": "Fourth", "category": "other"}
]}`

	drafts, err := vision.ParseSuggestions(reply, 3)
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, "Pocket Garden", drafts[0].Title)
	assert.Equal(t, models.CategoryCommunityGarden, drafts[0].Category)
	assert.Equal(t, 0.9, drafts[0].Confidence)

	assert.Equal(t, models.CategoryPublicArt, drafts[1].Category)
	assert.Equal(t, "colorful mural", drafts[1].ImagePrompt)
	assert.InDelta(t, 0.85, drafts[1].Confidence, 1e-9)

	assert.Equal(t, models.CategoryOther, drafts[2].Category)
	assert.Equal(t, 0.5, drafts[2].Confidence)
}

func TestParseSuggestions_BareArray(t *testing.T) {
	drafts, err := vision.ParseSuggestions(`[{"title":"Bench","category":"accessibility","confidence":-2}]`, 0)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, 0.0, drafts[0].Confidence)
}

func TestParseSuggestions_Empty(t *testing.T) {
	_, err := vision.ParseSuggestions(`{"suggestions": []}`, 3)
	assert.Error(t, err)

	_, err = vision.ParseSuggestions("I cannot help with that.", 3)
	assert.Error(t, err)
}

func TestParseCostEstimate(t *testing.T) {
	est, err := vision.ParseCostEstimate(`{
		"materials": [{"item": "Mulch", "cost": 200}],
		"labor": [{"description": "Install", "hours": 8, "rate": 40}],
		"other": []
	}`)
	require.NoError(t, err)

	assert.Equal(t, 320.0, est.Labor[0].Cost)
	assert.Equal(t, 520.0, est.Total)
	assert.NotNil(t, est.Other)
}

func TestParseCostEstimate_Wrapped(t *testing.T) {
	est, err := vision.ParseCostEstimate("```json\n{\"estimate\": {\"materials\": [{\"item\": \"Paint\", \"cost\": 150}], \"total\": 175}}\n```")
	require.NoError(t, err)
	assert.Equal(t, 175.0, est.Total)
	assert.Len(t, est.Materials, 1)
}

func TestParseCostEstimate_Rejects(t *testing.T) {
	_, err := vision.ParseCostEstimate(`{"materials": [{"item": "Refund", "cost": -50}]}`)
	assert.ErrorIs(t, err, apperrors.ErrEstimation)

	_, err = vision.ParseCostEstimate(`{"materials": []}`)
	assert.ErrorIs(t, err, apperrors.ErrEstimation)

	_, err = vision.ParseCostEstimate("no idea")
	assert.ErrorIs(t, err, apperrors.ErrEstimation)
}

func TestExtractJSON(t *testing.T) {
	got, err := vision.ExtractJSON(`prefix {"a": "b}"} suffix {"c": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "b}"}`, got)

	got, err = vision.ExtractJSON(`[1, [2, 3]] trailing`)
	require.NoError(t, err)
	assert.Equal(t, `[1, [2, 3]]`, got)

	_, err = vision.ExtractJSON("plain text")
	assert.Error(t, err)
}
