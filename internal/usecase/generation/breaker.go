package generation

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/metrics"
)

// BreakerConfig tunes the circuit breaker guarding the generation provider.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32        // consecutive failures that open the circuit
	OpenTimeout time.Duration // how long the circuit stays open before probing
	HalfOpenMax uint32        // probe requests allowed while half-open
}

// NewBreaker builds a breaker that trips on consecutive provider failures.
// Client errors (4xx) and caller cancellation are not provider failures.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.GenerationBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Status >= 400 && genErr.Status < 500
	}
	return false
}
