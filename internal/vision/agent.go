// Package vision turns site photos into a validity judgment, improvement
// suggestions and cost estimates using a multimodal language model.
package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"parkbeat-backend/internal/metrics"
	"parkbeat-backend/internal/models"
	"parkbeat-backend/internal/retry"
)

type Agent interface {
	Validate(ctx context.Context, imageURL string) (*Validation, error)
	AnalyzeMany(ctx context.Context, req AnalyzeRequest) ([]SuggestionDraft, error)
	EstimateCost(ctx context.Context, req EstimateRequest) (*models.CostEstimate, error)
}

// Completer sends one system+user exchange with optional images and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, imageURLs []string) (string, error)
	Name() string
}

type AnalyzeRequest struct {
	ImageURLs      []string
	Location       string
	MaxSuggestions int
}

type EstimateRequest struct {
	Title       string
	Description string
	Category    models.Category
	ImageURL    string
	Location    string
}

type Service struct {
	completer Completer
	retry     *retry.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewService(completer Completer, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		completer: completer,
		retry:     retry.DefaultConfig(),
		logger:    logger.Named("vision"),
		metrics:   m,
	}
}

// WithRetry overrides the backoff used around model calls.
func (s *Service) WithRetry(cfg *retry.Config) *Service {
	s.retry = cfg
	return s
}

func (s *Service) complete(ctx context.Context, operation, system, prompt string, images []string) (string, error) {
	defer s.metrics.ObserveAgent("vision", operation, time.Now())

	var reply string
	err := retry.DoIfRetryable(ctx, s.retry, func() error {
		out, err := s.completer.Complete(ctx, system, prompt, images)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s %s call failed: %w", s.completer.Name(), operation, err)
	}

	s.logger.Debug("model reply",
		zap.String("operation", operation),
		zap.String("provider", s.completer.Name()),
		zap.Int("length", len(reply)),
	)
	return reply, nil
}

func (s *Service) Validate(ctx context.Context, imageURL string) (*Validation, error) {
	reply, err := s.complete(ctx, "validate", systemPrompt, validatePrompt(), []string{imageURL})
	if err != nil {
		return nil, err
	}
	return ParseValidation(reply)
}

func (s *Service) AnalyzeMany(ctx context.Context, req AnalyzeRequest) ([]SuggestionDraft, error) {
	if len(req.ImageURLs) == 0 {
		return nil, fmt.Errorf("no images to analyze")
	}
	reply, err := s.complete(ctx, "analyze", systemPrompt, analyzePrompt(req), req.ImageURLs)
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(reply, req.MaxSuggestions)
}

func (s *Service) EstimateCost(ctx context.Context, req EstimateRequest) (*models.CostEstimate, error) {
	var images []string
	if req.ImageURL != "" {
		images = []string{req.ImageURL}
	}
	reply, err := s.complete(ctx, "estimate", systemPrompt, estimatePrompt(req), images)
	if err != nil {
		return nil, err
	}
	return ParseCostEstimate(reply)
}
