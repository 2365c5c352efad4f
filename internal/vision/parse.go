package vision

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"parkbeat-backend/internal/apperrors"
	"parkbeat-backend/internal/models"
)

type Judgment string

const (
	JudgmentYes   Judgment = "YES"
	JudgmentNo    Judgment = "NO"
	JudgmentMaybe Judgment = "MAYBE"
)

type Validation struct {
	Judgment    Judgment `json:"judgment"`
	Description string   `json:"description"`
}

// IsValid is true for YES and MAYBE.
func (v Validation) IsValid() bool {
	return v.Judgment == JudgmentYes || v.Judgment == JudgmentMaybe
}

type SuggestionDraft struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    models.Category `json:"category"`
	ImagePrompt string          `json:"image_prompt"`
	Confidence  float64         `json:"confidence"`
}

const defaultConfidence = 0.5

func parseJudgment(s string) (Judgment, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return JudgmentYes, true
	case "NO":
		return JudgmentNo, true
	case "MAYBE":
		return JudgmentMaybe, true
	}
	return "", false
}

// ParseValidation reads either a JSON object or a "YES: description" line.
func ParseValidation(text string) (*Validation, error) {
	if raw, err := ExtractJSON(text); err == nil {
		var v struct {
			Judgment    string `json:"judgment"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			if j, ok := parseJudgment(v.Judgment); ok {
				return &Validation{Judgment: j, Description: strings.TrimSpace(v.Description)}, nil
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimLeft(strings.TrimSpace(scanner.Text()), "*#- ")
		end := strings.IndexFunc(line, func(r rune) bool { return !unicode.IsLetter(r) })
		if end < 0 {
			end = len(line)
		}
		word := line[:end]
		j, ok := parseJudgment(word)
		if !ok {
			continue
		}
		// "No trees here" is prose, "NO" or "No:" is a verdict.
		if next, _ := utf8.DecodeRuneInString(line[end:]); word != strings.ToUpper(word) && end < len(line) && !strings.ContainsRune(":.-–*,", next) {
			continue
		}
		desc := strings.TrimSpace(strings.TrimLeft(line[end:], "*:.-– "))
		if desc == "" {
			var more []string
			for scanner.Scan() {
				if t := strings.TrimSpace(scanner.Text()); t != "" {
					more = append(more, t)
				}
			}
			desc = strings.Join(more, " ")
		}
		return &Validation{Judgment: j, Description: desc}, nil
	}

	return nil, fmt.Errorf("%w: no judgment in model response", apperrors.ErrValidation)
}

// ParseSuggestions reads a JSON array or {"suggestions": [...]} and normalizes each entry.
// Entries without a title are dropped and the result is capped at limit.
func ParseSuggestions(text string, limit int) ([]SuggestionDraft, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}

	type rawDraft struct {
		Title            string   `json:"title"`
		Description      string   `json:"description"`
		Category         string   `json:"category"`
		ImagePrompt      string   `json:"image_prompt"`
		ImagePromptCamel string   `json:"imagePrompt"`
		Confidence       *float64 `json:"confidence"`
	}

	var items []rawDraft
	if strings.HasPrefix(raw, "[") {
		err = json.Unmarshal([]byte(raw), &items)
	} else {
		var wrapper struct {
			Suggestions []rawDraft `json:"suggestions"`
		}
		err = json.Unmarshal([]byte(raw), &wrapper)
		items = wrapper.Suggestions
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	drafts := make([]SuggestionDraft, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		prompt := it.ImagePrompt
		if prompt == "" {
			prompt = it.ImagePromptCamel
		}
		confidence := defaultConfidence
		if it.Confidence != nil {
			confidence = clamp01(*it.Confidence)
		}
		drafts = append(drafts, SuggestionDraft{
			Title:       title,
			Description: strings.TrimSpace(it.Description),
			Category:    models.ParseCategory(it.Category),
			ImagePrompt: strings.TrimSpace(prompt),
			Confidence:  confidence,
		})
		if limit > 0 && len(drafts) == limit {
			break
		}
	}

	if len(drafts) == 0 {
		return nil, fmt.Errorf("model returned no usable suggestions")
	}
	return drafts, nil
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return defaultConfidence
	}
	// Some models answer on a 0-100 scale.
	if f > 1 && f <= 100 {
		f = f / 100
	}
	return math.Max(0, math.Min(1, f))
}

// ParseCostEstimate reads a cost breakdown. Missing labor costs are derived from
// hours and rate, and a missing total is the sum of the lines.
func ParseCostEstimate(text string) (*models.CostEstimate, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEstimation, err)
	}

	var payload struct {
		models.CostEstimate
		Estimate *models.CostEstimate `json:"estimate"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEstimation, err)
	}
	est := payload.CostEstimate
	if payload.Estimate != nil {
		est = *payload.Estimate
	}

	for i := range est.Labor {
		if est.Labor[i].Cost == 0 && est.Labor[i].Hours > 0 {
			est.Labor[i].Cost = est.Labor[i].Hours * est.Labor[i].Rate
		}
	}

	sum := est.Sum()
	if sum < 0 || est.Total < 0 {
		return nil, fmt.Errorf("%w: negative cost in estimate", apperrors.ErrEstimation)
	}
	for _, items := range [][]models.CostItem{est.Materials, est.Other} {
		for _, it := range items {
			if it.Cost < 0 {
				return nil, fmt.Errorf("%w: negative cost for %q", apperrors.ErrEstimation, it.Item)
			}
		}
	}
	for _, l := range est.Labor {
		if l.Cost < 0 || l.Hours < 0 || l.Rate < 0 {
			return nil, fmt.Errorf("%w: negative labor line %q", apperrors.ErrEstimation, l.Description)
		}
	}

	if est.Total == 0 {
		est.Total = sum
	}
	if est.Total == 0 {
		return nil, fmt.Errorf("%w: empty estimate", apperrors.ErrEstimation)
	}
	if est.Materials == nil {
		est.Materials = []models.CostItem{}
	}
	if est.Labor == nil {
		est.Labor = []models.LaborItem{}
	}
	if est.Other == nil {
		est.Other = []models.CostItem{}
	}
	return &est, nil
}
