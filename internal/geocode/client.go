// Package geocode reverse-geocodes project coordinates through a Nominatim-compatible API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parkbeat-backend/internal/models"
)

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		HouseNumber   string `json:"house_number"`
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
		Country       string `json:"country"`
	} `json:"address"`
	Error string `json:"error"`
}

func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*models.Location, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reverse geocode failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result reverseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("reverse geocode failed: %s", result.Error)
	}

	a := result.Address
	street := strings.TrimSpace(a.HouseNumber + " " + a.Road)
	city := firstNonEmpty(a.City, a.Town, a.Village)
	neighborhood := firstNonEmpty(a.Neighbourhood, a.Suburb)

	loc := &models.Location{
		Latitude:     lat,
		Longitude:    lng,
		Address:      street,
		Neighborhood: neighborhood,
		City:         city,
		State:        a.State,
		Country:      a.Country,
	}
	if loc.Address == "" && city == "" {
		loc.Address = result.DisplayName
	}
	return loc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
