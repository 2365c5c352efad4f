package vision

import (
	"fmt"
	"strings"

	"parkbeat-backend/internal/models"
)

const systemPrompt = `You are an urban planning assistant helping neighbors propose small public space improvements.
You look at photos of real places and answer precisely in the requested format.`

func validatePrompt() string {
	return `Is this photo of an outdoor public or semi-public space (street, sidewalk, park, vacant lot, plaza, schoolyard) where a community improvement project could realistically happen?

Answer with JSON only:
{"judgment": "YES" | "NO" | "MAYBE", "description": "one or two sentences describing the space and its current condition"}`
}

func analyzePrompt(req AnalyzeRequest) string {
	n := req.MaxSuggestions
	if n <= 0 {
		n = 3
	}

	cats := make([]string, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		cats = append(cats, string(c))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "These %d photos show the same location", len(req.ImageURLs))
	if req.Location != "" {
		fmt.Fprintf(&b, " (%s)", req.Location)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Suggest up to %d distinct, realistic improvement projects a neighborhood group could carry out here.\n", n)
	fmt.Fprintf(&b, "Use one of these categories: %s.\n\n", strings.Join(cats, ", "))
	b.WriteString(`For each suggestion also write an image_prompt describing how the same scene would look after the project is finished.

Answer with JSON only:
{"suggestions": [{"title": "...", "description": "...", "category": "...", "image_prompt": "...", "confidence": 0.0-1.0}]}`)
	return b.String()
}

func estimatePrompt(req EstimateRequest) string {
	var b strings.Builder
	b.WriteString("Estimate the cost of this community project in US dollars.\n\n")
	fmt.Fprintf(&b, "Title: %s\nCategory: %s\nDescription: %s\n", req.Title, req.Category, req.Description)
	if req.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", req.Location)
	}
	b.WriteString(`
Break the estimate into materials, labor and other costs. Use volunteer-friendly assumptions where reasonable.

Answer with JSON only:
{"materials": [{"item": "...", "cost": 0}], "labor": [{"description": "...", "hours": 0, "rate": 0, "cost": 0}], "other": [{"item": "...", "cost": 0}], "total": 0}`)
	return b.String()
}
