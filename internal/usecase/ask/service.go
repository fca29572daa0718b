// Package ask is the query pipeline: embed, search, assemble, generate.
package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/domain/match"
	"github.com/kailas-cloud/podrag/internal/domain/prompt"
	"github.com/kailas-cloud/podrag/internal/logger"
	"github.com/kailas-cloud/podrag/internal/metrics"
)

// DefaultNoInformationAnswer is returned when retrieval finds nothing.
const DefaultNoInformationAnswer = "I couldn't find anything about that in the podcast episodes."

// Options configures the pipeline.
type Options struct {
	DefaultTopK            int
	MaxTopK                int
	MaxContextChars        int
	DegradeOnSearchFailure bool
	NoInformationAnswer    string
	EmbedTimeout           time.Duration
	SearchTimeout          time.Duration
}

// Request is one user question.
type Request struct {
	Query string
	TopK  int // 0 means Options.DefaultTopK
}

// Response is the answer plus the matches it was built from, best first.
type Response struct {
	Answer   string
	Sources  []match.Match
	Degraded bool // search failed and the pipeline continued without matches
}

// Service is the query orchestrator. Safe for concurrent use.
type Service struct {
	embedder  domain.Embedder
	searcher  Searcher
	generator Generator
	opts      Options
}

// New creates the orchestrator.
func New(e domain.Embedder, s Searcher, g Generator, opts Options) *Service {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 10
	}
	if opts.NoInformationAnswer == "" {
		opts.NoInformationAnswer = DefaultNoInformationAnswer
	}
	return &Service{embedder: e, searcher: s, generator: g, opts: opts}
}

// Ask answers a question. Any failure returns an error and no partial response.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	resp, outcome, err := s.ask(ctx, req)
	metrics.AskTotal.WithLabelValues(outcome).Inc()
	return resp, err
}

func (s *Service) ask(ctx context.Context, req Request) (Response, string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, metrics.OutcomeError, fmt.Errorf("query is empty: %w", domain.ErrInvalidInput)
	}
	topK, err := s.topK(req.TopK)
	if err != nil {
		return Response{}, metrics.OutcomeError, err
	}

	vector, err := s.embed(ctx, req.Query)
	if err != nil {
		return Response{}, metrics.OutcomeError, err
	}

	matches, degraded, err := s.search(ctx, vector, topK)
	if err != nil {
		return Response{}, metrics.OutcomeError, err
	}

	if len(matches) == 0 {
		outcome := metrics.OutcomeNoInformation
		if degraded {
			outcome = metrics.OutcomeDegraded
		}
		return Response{Answer: s.opts.NoInformationAnswer, Sources: []match.Match{}, Degraded: degraded},
			outcome, nil
	}

	// Matches whose titles are all blank give the generator nothing to ground on.
	contextBlock := prompt.Assemble(matches, s.opts.MaxContextChars)
	if contextBlock == "" {
		return Response{Answer: s.opts.NoInformationAnswer, Sources: matches}, metrics.OutcomeNoInformation, nil
	}

	answer, err := s.generator.Generate(ctx, req.Query, contextBlock)
	if err != nil {
		return Response{}, metrics.OutcomeError, fmt.Errorf("generate answer: %w", err)
	}

	return Response{Answer: answer, Sources: matches}, metrics.OutcomeAnswered, nil
}

func (s *Service) topK(requested int) (int, error) {
	if requested == 0 {
		return s.opts.DefaultTopK, nil
	}
	if requested < 0 || (s.opts.MaxTopK > 0 && requested > s.opts.MaxTopK) {
		return 0, fmt.Errorf("top_k must be in [1, %d], got %d: %w", s.opts.MaxTopK, requested, domain.ErrInvalidInput)
	}
	return requested, nil
}

func (s *Service) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			return nil, fmt.Errorf("embed query: %w: %w", err, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return res.Embedding, nil
}

// search applies the degradation policy: a search failure either surfaces or
// becomes an empty result with degraded=true.
func (s *Service) search(ctx context.Context, vector []float32, topK int) ([]match.Match, bool, error) {
	sctx, cancel := withTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	matches, err := s.searcher.Search(sctx, vector, topK)
	if err == nil {
		return matches, false, nil
	}

	if errors.Is(err, domain.ErrSearchFailure) && s.opts.DegradeOnSearchFailure && ctx.Err() == nil {
		logger.FromContext(ctx).Warn("Search failed, continuing without matches", zap.Error(err))
		return nil, true, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return nil, false, fmt.Errorf("search: %w: %w", err, domain.ErrTimeout)
	}
	return nil, false, fmt.Errorf("search: %w", err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
