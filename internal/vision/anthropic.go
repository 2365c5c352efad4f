package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

const maxImageBytes = 5 << 20

// AnthropicCompleter sends images inline as base64, so it downloads each URL first.
type AnthropicCompleter struct {
	client     *anthropic.Client
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewAnthropicCompleter(apiKey, model string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client:    anthropic.NewClient(apiKey),
		model:     model,
		maxTokens: 2048,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *AnthropicCompleter) Name() string {
	return "anthropic"
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string, imageURLs []string) (string, error) {
	content := make([]anthropic.MessageContent, 0, len(imageURLs)+1)
	for _, u := range imageURLs {
		mediaType, data, err := c.fetchImage(ctx, u)
		if err != nil {
			return "", err
		}
		content = append(content, anthropic.NewImageMessageContent(
			anthropic.NewMessageContentSource(
				anthropic.MessagesContentSourceTypeBase64,
				mediaType,
				base64.StdEncoding.EncodeToString(data),
			),
		))
	}
	content = append(content, anthropic.NewTextMessageContent(prompt))

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    system,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: content},
		},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return "", &providerError{err: err, retryable: apiErr.IsRateLimitErr() || apiErr.IsOverloadedErr() || apiErr.IsApiErr()}
		}
		return "", err
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}

func (c *AnthropicCompleter) fetchImage(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mediaType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/jpeg"
	}
	return mediaType, data, nil
}
