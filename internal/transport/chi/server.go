package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/domain"
	askuc "github.com/kailas-cloud/podrag/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/podrag/internal/usecase/health"
	"github.com/kailas-cloud/podrag/internal/version"
)

const (
	serviceName     = "podrag"
	maxAskBodyBytes = 64 << 10
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeInvalidInput      = "invalid_input"
	CodeUnauthorized      = "unauthorized"
	CodeSearchFailure     = "search_failure"
	CodeGenerationFailure = "generation_failure"
	CodeEmbeddingFailure  = "embedding_failure"
	CodeTimeout           = "timeout"
	CodeInternalError     = "internal_error"
)

// Asker answers questions. Implemented by usecase/ask.Service.
type Asker interface {
	Ask(ctx context.Context, req askuc.Request) (askuc.Response, error)
}

// HealthReporter aggregates component health. Implemented by usecase/health.Service.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// AskRequest is the POST / body.
type AskRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// Source is one retrieved segment in an answer.
type Source struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"`
	URL         string  `json:"url"`
	PublishedAt string  `json:"published_at"`
	Title       string  `json:"title"`
}

// AskResponse is the POST / success body.
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	UpstreamStatus *int   `json:"upstream_status,omitempty"`
}

// HomeResponse is the GET / body.
type HomeResponse struct {
	Data    string `json:"data"`
	Version string `json:"version"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the question answering API.
type Server struct {
	asker         Asker
	health        HealthReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(asker Asker, health HealthReporter, logger *zap.Logger) *Server {
	s := &Server{
		asker:  asker,
		health: health,
		logger: logger,
	}
	// Order matters: a search or generation timeout also wraps its failure sentinel.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout),
		generationErrorHandler,
		sentinelHandler(domain.ErrGenerationFailure, http.StatusBadGateway, CodeGenerationFailure),
		sentinelHandler(domain.ErrSearchFailure, http.StatusBadGateway, CodeSearchFailure),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingFailure),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.Home)
	r.Post("/", s.Ask)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Home handles GET /.
func (s *Server) Home(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HomeResponse{Data: serviceName, Version: version.Version})
}

// Ask handles POST /.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var body AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "request body must be a JSON object with a query")
		return
	}

	req := askuc.Request{Query: body.Query}
	if body.TopK != nil {
		if *body.TopK <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "top_k must be positive")
			return
		}
		req.TopK = *body.TopK
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.asker.Ask(ctx, req)
	setUsageHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if resp.Degraded {
		w.Header().Set("X-Search-Degraded", "true")
	}

	out := AskResponse{
		Answer:  resp.Answer,
		Sources: make([]Source, 0, len(resp.Sources)),
	}
	for i := range resp.Sources {
		m := &resp.Sources[i]
		out.Sources = append(out.Sources, Source{
			ID:          m.ID(),
			Score:       m.Score(),
			URL:         m.URL(),
			PublishedAt: m.PublishedAt(),
			Title:       m.Title(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	if usage == nil {
		return
	}
	if usage.Embedded {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.EmbeddingTokens))
	}
	if usage.Generated {
		w.Header().Set("X-Generation-Tokens", strconv.Itoa(usage.GenerationTokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Invalid input is the caller's own mistake, so its full text is returned.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidInput) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrTimeout,
		domain.ErrGenerationFailure,
		domain.ErrSearchFailure,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeDomainMessage(err))
		return true
	}
}

// generationErrorHandler reports the provider status alongside the failure.
func generationErrorHandler(w http.ResponseWriter, err error) bool {
	var ge *domain.GenerationError
	if !errors.As(err, &ge) {
		return false
	}
	resp := ErrorResponse{
		Error: domain.ErrGenerationFailure.Error(),
		Code:  CodeGenerationFailure,
	}
	if ge.Status != 0 {
		status := ge.Status
		resp.UpstreamStatus = &status
	}
	writeJSON(w, http.StatusBadGateway, resp)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
