package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/metrics"
)

var _ domain.Completer = (*Generator)(nil)

// Generator is a text-generation provider using the OpenAI-compatible
// completions endpoint (OpenAI instruct models, vLLM, TGI, Ollama).
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	provider  string
	logger    *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Provider  string
	Logger    *zap.Logger
}

// NewGenerator creates an OpenAI-compatible completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	return &Generator{
		client:    newClient(cfg.APIKey, cfg.BaseURL),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		provider:  cfg.Provider,
		logger:    cfg.Logger,
	}
}

// Complete sends one prompt and returns the first choice. Failures are
// *domain.GenerationError carrying the upstream status (0 for network errors);
// an expired deadline is returned as domain.ErrTimeout and caller cancellation
// as a wrapped context.Canceled.
func (g *Generator) Complete(ctx context.Context, prompt string) (domain.Completion, error) {
	req := openai.CompletionRequest{
		Model:     g.model,
		Prompt:    prompt,
		MaxTokens: g.maxTokens,
	}

	start := time.Now()
	resp, err := g.client.CreateCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Completion{}, fmt.Errorf("completion request: %w", domain.ErrTimeout)
		}
		// The caller went away; the provider did nothing wrong.
		if errors.Is(err, context.Canceled) {
			return domain.Completion{}, fmt.Errorf("completion request: %w", err)
		}
		status, msg := statusAndMessage(err)
		return domain.Completion{}, domain.NewGenerationError(status, msg)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "error").Inc()
		return domain.Completion{}, domain.NewGenerationError(0, "empty completion response")
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, g.model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}

	return domain.Completion{
		Text:             resp.Choices[0].Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
