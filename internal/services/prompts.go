package services

import (
	"fmt"
	"strings"

	"parkbeat-backend/internal/models"
)

// BuildImagePrompt describes the proposed improvement as an edit of the source photo.
func BuildImagePrompt(s *models.ProjectSuggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Photorealistic edit of this exact photo showing the site after the project %q is completed.\n", s.Title)
	if s.Description != "" {
		fmt.Fprintf(&b, "Project: %s\n", s.Description)
	}
	if s.EstimatedCost != nil {
		b.WriteString("Budget breakdown, keep the scale of the work consistent with it:\n")
		b.WriteString(s.EstimatedCost.Breakdown())
		b.WriteString("\n")
	}
	b.WriteString("Preserve the original camera perspective and lighting. ")
	b.WriteString("Only change what the project adds or replaces. Do not add text or watermarks.")
	return b.String()
}
