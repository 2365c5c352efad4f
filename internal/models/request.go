package models

type ValidateImageRequest struct {
	ImageURL  string    `json:"image_url" binding:"required"`
	ProjectID string    `json:"project_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

type GenerateImagesRequest struct {
	// Optional subset. When empty every eligible suggestion is processed.
	SuggestionIDs []string `json:"suggestion_ids,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
