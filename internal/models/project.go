package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ProjectStatusDraft  = "draft"
	ProjectStatusActive = "active"
)

type Project struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	CostEstimate *CostEstimate `json:"cost_estimate,omitempty"`
	CreatedBy    string        `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type ProjectImage struct {
	ID        uuid.UUID     `json:"id"`
	ProjectID uuid.UUID     `json:"project_id"`
	ImageURL  string        `json:"image_url"`
	IsValid   bool          `json:"is_valid"`
	Analysis  string        `json:"analysis"`
	Metadata  ImageMetadata `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

type ImageMetadata struct {
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Location *Location `json:"location,omitempty"`
}

func (m ImageMetadata) Value() (driver.Value, error) { return jsonValue(m) }
func (m *ImageMetadata) Scan(src any) error { return jsonScan(src, m) }

type Location struct {
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	Address      string  `json:"address,omitempty"`
	Neighborhood string  `json:"neighborhood,omitempty"`
	City         string  `json:"city,omitempty"`
	State        string  `json:"state,omitempty"`
	Country      string  `json:"country,omitempty"`
}

// Describe renders the location as the one-line context handed to the vision model.
func (l *Location) Describe() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{l.Address, l.Neighborhood, l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 && (l.Latitude != 0 || l.Longitude != 0) {
		return fmt.Sprintf("%.5f, %.5f", l.Latitude, l.Longitude)
	}
	return strings.Join(parts, ", ")
}
