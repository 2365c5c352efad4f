package models

import "time"

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ValidateImageResponse struct {
	IsValid     bool   `json:"is_valid"`
	Judgment    string `json:"judgment,omitempty"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	ImageID     string `json:"image_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ProjectResponse struct {
	Project     *Project            `json:"project"`
	Images      []ProjectImage      `json:"images"`
	Suggestions []ProjectSuggestion `json:"suggestions"`
}

type ImagesResponse struct {
	Images []ProjectImage `json:"images"`
}

type SuggestionsResponse struct {
	Suggestions []ProjectSuggestion `json:"suggestions"`
}

type CommandResponse struct {
	Status string `json:"status"` // "accepted" or "duplicate"
}

type StatusResponse struct {
	ProjectID         string             `json:"project_id"`
	GenerationRunning bool               `json:"generation_running"`
	Suggestions       []SuggestionStatus `json:"suggestions"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type SuggestionStatus struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	IsEstimating bool        `json:"is_estimating"`
	IsUpscaling  bool        `json:"is_upscaling"`
	IsGenerating bool        `json:"is_generating"`
	Generated    int         `json:"generated"`
	LastError    *ImageError `json:"last_error,omitempty"`
}
