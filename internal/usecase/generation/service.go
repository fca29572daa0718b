// Package generation turns a question and its context block into an answer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/domain/answer"
	"github.com/kailas-cloud/podrag/internal/domain/prompt"
	"github.com/kailas-cloud/podrag/internal/metrics"
)

// Options bounds a single Generate call.
type Options struct {
	Timeout      time.Duration // 0 means only the caller's deadline applies
	MaxRetries   int           // retries after a transient failure
	RetryBackoff time.Duration
}

// Service is the answer generator.
type Service struct {
	completer domain.Completer
	breaker   *gobreaker.CircuitBreaker
	opts      Options
	logger    *zap.Logger
}

// New creates the generation service. breaker may be nil.
func New(c domain.Completer, breaker *gobreaker.CircuitBreaker, opts Options, logger *zap.Logger) *Service {
	return &Service{completer: c, breaker: breaker, opts: opts, logger: logger}
}

// Generate builds the prompt, calls the provider and extracts the answer.
// Provider failures are *domain.GenerationError; an expired bound is domain.ErrTimeout.
// A cancelled caller is never retried.
func (s *Service) Generate(ctx context.Context, query, contextBlock string) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	p := prompt.Build(query, contextBlock)

	var (
		c   domain.Completion
		err error
	)
	for attempt := 0; ; attempt++ {
		c, err = s.call(ctx, p)
		if err == nil {
			break
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
			return "", fmt.Errorf("generate: %w", domain.ErrTimeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", contextError(ctxErr)
		}
		if attempt >= s.opts.MaxRetries || !isTransient(err) {
			return "", fmt.Errorf("generate: %w", err)
		}

		metrics.GenerationRetriesTotal.Inc()
		s.logger.Warn("Generation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := sleep(ctx, s.opts.RetryBackoff); err != nil {
			return "", contextError(err)
		}
	}

	domain.UsageFromContext(ctx).AddGenerationTokens(c.PromptTokens + c.CompletionTokens)

	return answer.Extract(c.Text), nil
}

func (s *Service) call(ctx context.Context, p string) (domain.Completion, error) {
	if s.breaker == nil {
		return s.completer.Complete(ctx, p) //nolint:wrapcheck // wrapped by Generate
	}

	res, err := s.breaker.Execute(func() (any, error) {
		return s.completer.Complete(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Completion{}, &domain.GenerationError{
			Status:  503,
			Message: fmt.Sprintf("generation provider unavailable (circuit %s)", s.breaker.State()),
		}
	}
	if err != nil {
		return domain.Completion{}, err //nolint:wrapcheck // wrapped by Generate
	}
	return res.(domain.Completion), nil //nolint:forcetypeassert // set by the closure above
}

// contextError maps an ended context: an expired bound is domain.ErrTimeout,
// caller cancellation stays context.Canceled.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generate: %w", domain.ErrTimeout)
	}
	return fmt.Errorf("generate: %w", err)
}

func isTransient(err error) bool {
	var genErr *domain.GenerationError
	return errors.As(err, &genErr) && genErr.Transient
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
