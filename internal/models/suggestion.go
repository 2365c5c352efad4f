package models

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/google/uuid"
)

const SuggestionStatusPending = "pending"

type Category string

const (
	CategoryUrbanGreening   Category = "urban_greening"
	CategoryParkImprovement Category = "park_improvement"
	CategoryCommunityGarden Category = "community_garden"
	CategoryPlayground      Category = "playground"
	CategoryPublicArt       Category = "public_art"
	CategorySustainability  Category = "sustainability"
	CategoryAccessibility   Category = "accessibility"
	CategoryOther           Category = "other"
)

var categories = []Category{
	CategoryUrbanGreening,
	CategoryParkImprovement,
	CategoryCommunityGarden,
	CategoryPlayground,
	CategoryPublicArt,
	CategorySustainability,
	CategoryAccessibility,
	CategoryOther,
}

// Categories lists every category in prompt order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory maps free text onto a known category, falling back to other.
func ParseCategory(s string) Category {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, c := range categories {
		if norm == string(c) {
			return c
		}
	}
	return CategoryOther
}

type ProjectSuggestion struct {
	ID            uuid.UUID        `json:"id"`
	ProjectID     uuid.UUID        `json:"project_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Category      Category         `json:"category"`
	ImagePrompt   string           `json:"image_prompt"`
	EstimatedCost *CostEstimate    `json:"estimated_cost"`
	IsEstimating  bool             `json:"is_estimating"`
	Confidence    float64          `json:"confidence"`
	Status        string           `json:"status"`
	Images        SuggestionImages `json:"images"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ImageRef points at a stored image.
type ImageRef struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// UpscaledImage is either a usable result or a recorded failure.
type UpscaledImage struct {
	URL        string     `json:"url,omitempty"`
	ID         string     `json:"id,omitempty"`
	UpscaledAt *time.Time `json:"upscaledAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Usable reports whether the upscale produced an image that can seed generation.
func (u *UpscaledImage) Usable() bool {
	return u != nil && u.URL != "" && u.ID != ""
}

type GeneratedImage struct {
	URL          string    `json:"url"`
	GeneratedAt  time.Time `json:"generatedAt"`
	GenerationID string    `json:"generationId"`
}

const (
	ErrorCodeGeneration = "GENERATION_ERROR"
	ErrorCodeUpscale    = "UPSCALE_ERROR"
)

type ImageError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ImageStatus struct {
	IsUpscaling  bool        `json:"isUpscaling"`
	IsGenerating bool        `json:"isGenerating"`
	LastError    *ImageError `json:"lastError"`
	UpdatedAt    *time.Time  `json:"updatedAt,omitempty"`
}

// SuggestionImages is the nested image pipeline state stored as jsonb.
type SuggestionImages struct {
	Source    *ImageRef        `json:"source,omitempty"`
	Upscaled  *UpscaledImage   `json:"upscaled,omitempty"`
	Generated []GeneratedImage `json:"generated"`
	Status    ImageStatus      `json:"status"`
}

func (s SuggestionImages) Value() (driver.Value, error) {
	if s.Generated == nil {
		s.Generated = []GeneratedImage{}
	}
	return jsonValue(s)
}

func (s *SuggestionImages) Scan(src any) error { return jsonScan(src, s) }

// InProgress reports whether an upscale or generation is marked as running.
func (s SuggestionImages) InProgress() bool {
	return s.Status.IsUpscaling || s.Status.IsGenerating
}
