// Package leonardo is the Leonardo.ai REST client used for upscaling site
// photos and generating "after" renderings from them.
package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/ratelimit"
	"parkbeat-backend/internal/retry"
)

var (
	ErrPollTimeout = errors.New("leonardo job did not finish in time")
	ErrJobFailed   = errors.New("leonardo job failed")
)

const (
	statusComplete = "COMPLETE"
	statusFailed   = "FAILED"
)

type Options struct {
	ModelID         string
	PollInterval    time.Duration
	MaxPollAttempts int
	RatePerSecond   int
}

type Client struct {
	baseURL         string
	apiKey          string
	modelID         string
	pollInterval    time.Duration
	maxPollAttempts int
	httpClient      *http.Client
	limiter         ratelimit.Limiter
	retry           *retry.Config
}

// Image is a finished upscale or generation.
type Image struct {
	ID           string
	URL          string
	GenerationID string
}

type GenerateRequest struct {
	Prompt       string
	InitImageURL string
	// InitStrength is how closely the output follows the init image, 0.1 to 0.9.
	InitStrength float64
	Width        int
	Height       int
}

type initImageRequest struct {
	Extension string `json:"extension"`
}

type initImageResponse struct {
	UploadInitImage struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Fields string `json:"fields"`
		Key    string `json:"key"`
	} `json:"uploadInitImage"`
}

type upscaleRequest struct {
	InitImageID        string  `json:"initImageId"`
	UpscaleMultiplier  float64 `json:"upscaleMultiplier"`
	CreativityStrength int     `json:"creativityStrength"`
	UpscalerStyle      string  `json:"upscalerStyle"`
}

type upscaleResponse struct {
	UniversalUpscaler struct {
		ID string `json:"id"`
	} `json:"universalUpscaler"`
}

type variationResponse struct {
	Variations []struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		Status        string `json:"status"`
		TransformType string `json:"transformType"`
	} `json:"generated_image_variation_generic"`
}

type generationRequest struct {
	Prompt       string  `json:"prompt"`
	ModelID      string  `json:"modelId"`
	InitImageID  string  `json:"init_image_id"`
	InitStrength float64 `json:"init_strength"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	NumImages    int     `json:"num_images"`
}

type generationJobResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type generationResponse struct {
	Generation struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		GeneratedImages []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

func NewClient(baseURL, apiKey string, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 40
	}
	limiter := ratelimit.NewUnlimited()
	if opts.RatePerSecond > 0 {
		limiter = ratelimit.New(opts.RatePerSecond)
	}
	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		apiKey:          apiKey,
		modelID:         opts.ModelID,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: limiter,
		retry:   retry.DefaultConfig(),
	}
}

// WithRetry overrides the backoff used for idempotent requests.
func (c *Client) WithRetry(cfg *retry.Config) *Client {
	c.retry = cfg
	return c
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.limiter.Take()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: status %d, body: %s", method, endpoint, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// UploadInitImage registers an init image and pushes the bytes to the presigned URL.
func (c *Client) UploadInitImage(ctx context.Context, data []byte, extension string) (string, error) {
	var init initImageResponse
	err := retry.DoIfRetryable(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPost, "/init-image", initImageRequest{Extension: extension}, &init)
	})
	if err != nil {
		return "", fmt.Errorf("failed to request init image upload: %w", err)
	}
	if init.UploadInitImage.ID == "" || init.UploadInitImage.URL == "" {
		return "", fmt.Errorf("init image response missing id or url")
	}

	fields := map[string]string{}
	if init.UploadInitImage.Fields != "" {
		if err := json.Unmarshal([]byte(init.UploadInitImage.Fields), &fields); err != nil {
			return "", fmt.Errorf("failed to decode presigned fields: %w", err)
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", "init."+extension)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, init.UploadInitImage.URL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload init image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to upload init image: status %d, body: %s", resp.StatusCode, string(body))
	}

	return init.UploadInitImage.ID, nil
}

// UploadInitImageFromURL downloads imageURL and registers it as an init image.
func (c *Client) UploadInitImageFromURL(ctx context.Context, imageURL string) (string, error) {
	data, contentType, err := c.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	return c.UploadInitImage(ctx, data, extensionFor(imageURL, contentType))
}

// Upscale runs the universal upscaler on the image at sourceURL.
func (c *Client) Upscale(ctx context.Context, sourceURL string) (*Image, error) {
	initID, err := c.UploadInitImageFromURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	var job upscaleResponse
	err = c.do(ctx, http.MethodPost, "/variations/universal-upscaler", upscaleRequest{
		InitImageID:        initID,
		UpscaleMultiplier:  1.5,
		CreativityStrength: 2,
		UpscalerStyle:      "REALISTIC",
	}, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to start upscale: %w", err)
	}
	variationID := job.UniversalUpscaler.ID
	if variationID == "" {
		return nil, fmt.Errorf("upscale response missing variation id")
	}

	var img *Image
	err = c.poll(ctx, func() (bool, error) {
		var v variationResponse
		if err := c.do(ctx, http.MethodGet, "/variations/"+variationID, nil, &v); err != nil {
			return false, err
		}
		for _, variation := range v.Variations {
			switch variation.Status {
			case statusComplete:
				if variation.URL == "" {
					continue
				}
				img = &Image{ID: variation.ID, URL: variation.URL, GenerationID: variationID}
				return true, nil
			case statusFailed:
				return false, fmt.Errorf("%w: upscale %s", ErrJobFailed, variationID)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Generate renders req.Prompt using the image at req.InitImageURL as a guide.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	initID, err := c.UploadInitImageFromURL(ctx, req.InitImageURL)
	if err != nil {
		return nil, err
	}

	strength := req.InitStrength
	if strength < 0.1 || strength > 0.9 {
		strength = 0.5
	}
	width, height := clampDimensions(req.Width, req.Height)

	var job generationJobResponse
	err = c.do(ctx, http.MethodPost, "/generations", generationRequest{
		Prompt:       req.Prompt,
		ModelID:      c.modelID,
		InitImageID:  initID,
		InitStrength: strength,
		Width:        width,
		Height:       height,
		NumImages:    1,
	}, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}
	generationID := job.SDGenerationJob.GenerationID
	if generationID == "" {
		return nil, fmt.Errorf("generation response missing generationId")
	}

	var img *Image
	err = c.poll(ctx, func() (bool, error) {
		var g generationResponse
		if err := c.do(ctx, http.MethodGet, "/generations/"+generationID, nil, &g); err != nil {
			return false, err
		}
		switch g.Generation.Status {
		case statusComplete:
			if len(g.Generation.GeneratedImages) == 0 {
				return false, fmt.Errorf("%w: generation %s returned no images", ErrJobFailed, generationID)
			}
			first := g.Generation.GeneratedImages[0]
			img = &Image{ID: first.ID, URL: first.URL, GenerationID: generationID}
			return true, nil
		case statusFailed:
			return false, fmt.Errorf("%w: generation %s", ErrJobFailed, generationID)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// poll calls check every pollInterval until it reports done, fails, or attempts run out.
// Transient request errors count as an unfinished attempt.
func (c *Client) poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 0; attempt < c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := check()
		if err != nil {
			if errors.Is(err, ErrJobFailed) || !retry.IsRetryable(err) {
				return err
			}
			lastErr = err
			continue
		}
		if done {
			return nil
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrPollTimeout, c.maxPollAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrPollTimeout, c.maxPollAttempts)
}

// Download fetches an arbitrary image URL.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func extensionFor(imageURL, contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpg"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.SplitN(imageURL, "?", 2)[0]), "."))
	switch ext {
	case "png", "webp", "jpg":
		return ext
	case "jpeg":
		return "jpg"
	}
	return "jpg"
}

// clampDimensions keeps the aspect ratio inside Leonardo's 512-1536 range in multiples of 8.
func clampDimensions(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 1024, 768
	}
	const maxSide, minSide = 1536, 512

	scale := 1.0
	if longest := max(width, height); longest > maxSide {
		scale = float64(maxSide) / float64(longest)
	}
	if shortest := min(width, height); float64(shortest)*scale < minSide {
		scale = float64(minSide) / float64(shortest)
	}

	w := int(float64(width)*scale) / 8 * 8
	h := int(float64(height)*scale) / 8 * 8
	return min(max(w, minSide), maxSide), min(max(h, minSide), maxSide)
}
