package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/domain/match"
	askuc "github.com/kailas-cloud/podrag/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/podrag/internal/usecase/health"
)

type fakeAsker struct {
	resp    askuc.Response
	err     error
	lastReq askuc.Request
}

func (f *fakeAsker) Ask(ctx context.Context, req askuc.Request) (askuc.Response, error) {
	f.lastReq = req
	u := domain.UsageFromContext(ctx)
	u.AddEmbeddingTokens(7)
	if f.err == nil {
		u.AddGenerationTokens(42)
	}
	return f.resp, f.err
}

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(context.Context) healthuc.Report { return f.report }

func newTestRouter(a Asker, h HealthReporter) http.Handler {
	r := chi.NewRouter()
	NewServer(a, h, zap.NewNop()).Routes(r)
	return r
}

func postAsk(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

func TestHome(t *testing.T) {
	h := newTestRouter(&fakeAsker{}, &fakeHealth{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var body HomeResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data != "podrag" {
		t.Errorf("data: got %q", body.Data)
	}
	if body.Version == "" {
		t.Error("version is empty")
	}
}

func TestAsk_Success(t *testing.T) {
	asker := &fakeAsker{resp: askuc.Response{
		Answer: "Varun thinks 2027.",
		Sources: []match.Match{
			match.New("v1", 0.92, match.Metadata{Title: "AGI", URL: "https://y/1", PublishedAt: "2024-01-05"}),
			match.New("v2", 0.71, match.Metadata{Title: "Chips", URL: "https://y/2", PublishedAt: "2023-11-20"}),
		},
	}}
	rr := postAsk(t, newTestRouter(asker, &fakeHealth{}), `{"query":"when is AGI?","top_k":2}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if asker.lastReq.Query != "when is AGI?" || asker.lastReq.TopK != 2 {
		t.Errorf("request: got %+v", asker.lastReq)
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "7" {
		t.Errorf("X-Embedding-Tokens: got %q, want 7", got)
	}
	if got := rr.Header().Get("X-Generation-Tokens"); got != "42" {
		t.Errorf("X-Generation-Tokens: got %q, want 42", got)
	}

	var body AskResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Answer != "Varun thinks 2027." {
		t.Errorf("answer: got %q", body.Answer)
	}
	if len(body.Sources) != 2 {
		t.Fatalf("sources: got %d, want 2", len(body.Sources))
	}
	want := Source{ID: "v1", Score: 0.92, URL: "https://y/1", PublishedAt: "2024-01-05", Title: "AGI"}
	if body.Sources[0] != want {
		t.Errorf("first source: got %+v, want %+v", body.Sources[0], want)
	}
}

func TestAsk_EmptySourcesIsArray(t *testing.T) {
	asker := &fakeAsker{resp: askuc.Response{Answer: askuc.DefaultNoInformationAnswer}}
	rr := postAsk(t, newTestRouter(asker, &fakeHealth{}), `{"query":"anything"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"sources":[]`) {
		t.Errorf("sources should be an empty array: %s", rr.Body.String())
	}
	if asker.lastReq.TopK != 0 {
		t.Errorf("missing top_k should be 0, got %d", asker.lastReq.TopK)
	}
}

func TestAsk_DegradedHeader(t *testing.T) {
	asker := &fakeAsker{resp: askuc.Response{Answer: "a", Degraded: true}}
	rr := postAsk(t, newTestRouter(asker, &fakeHealth{}), `{"query":"q"}`)

	if rr.Header().Get("X-Search-Degraded") != "true" {
		t.Error("expected X-Search-Degraded header")
	}
}

func TestAsk_BadJSON(t *testing.T) {
	asker := &fakeAsker{}
	rr := postAsk(t, newTestRouter(asker, &fakeHealth{}), `{"query":`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != CodeBadRequest {
		t.Errorf("code: got %q, want %q", e.Code, CodeBadRequest)
	}
	if asker.lastReq.Query != "" {
		t.Error("asker should not be called on bad JSON")
	}
}

func TestAsk_NonPositiveTopK(t *testing.T) {
	rr := postAsk(t, newTestRouter(&fakeAsker{}, &fakeHealth{}), `{"query":"q","top_k":0}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != CodeInvalidInput {
		t.Errorf("code: got %q, want %q", e.Code, CodeInvalidInput)
	}
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		upstream int
	}{
		{
			name:   "invalid input",
			err:    fmt.Errorf("query is empty: %w", domain.ErrInvalidInput),
			status: http.StatusBadRequest,
			code:   CodeInvalidInput,
		},
		{
			name:   "search failure",
			err:    fmt.Errorf("search: %w", domain.ErrSearchFailure),
			status: http.StatusBadGateway,
			code:   CodeSearchFailure,
		},
		{
			name:   "search timeout",
			err:    fmt.Errorf("search: %w: %w", domain.ErrTimeout, domain.ErrSearchFailure),
			status: http.StatusGatewayTimeout,
			code:   CodeTimeout,
		},
		{
			name:     "generation rate limited",
			err:      fmt.Errorf("generate: %w", domain.NewGenerationError(429, "slow down")),
			status:   http.StatusBadGateway,
			code:     CodeGenerationFailure,
			upstream: 429,
		},
		{
			name:   "generation network error",
			err:    domain.NewGenerationError(0, "connection reset"),
			status: http.StatusBadGateway,
			code:   CodeGenerationFailure,
		},
		{
			name:   "embedding provider",
			err:    fmt.Errorf("embed: %w", domain.ErrEmbeddingProviderError),
			status: http.StatusBadGateway,
			code:   CodeEmbeddingFailure,
		},
		{
			name:   "unknown",
			err:    errors.New("secret internals"),
			status: http.StatusInternalServerError,
			code:   CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postAsk(t, newTestRouter(&fakeAsker{err: tt.err}, &fakeHealth{}), `{"query":"q"}`)

			if rr.Code != tt.status {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.status)
			}
			e := decodeError(t, rr)
			if e.Code != tt.code {
				t.Errorf("code: got %q, want %q", e.Code, tt.code)
			}
			if strings.Contains(e.Error, "secret") {
				t.Errorf("error message leaks internals: %q", e.Error)
			}
			switch {
			case tt.upstream == 0 && e.UpstreamStatus != nil:
				t.Errorf("upstream_status: got %d, want none", *e.UpstreamStatus)
			case tt.upstream != 0 && (e.UpstreamStatus == nil || *e.UpstreamStatus != tt.upstream):
				t.Errorf("upstream_status: got %v, want %d", e.UpstreamStatus, tt.upstream)
			}
		})
	}
}

func TestAsk_ErrorStillReportsEmbeddingTokens(t *testing.T) {
	asker := &fakeAsker{err: fmt.Errorf("search: %w", domain.ErrSearchFailure)}
	rr := postAsk(t, newTestRouter(asker, &fakeHealth{}), `{"query":"q"}`)

	if got := rr.Header().Get("X-Embedding-Tokens"); got != "7" {
		t.Errorf("X-Embedding-Tokens: got %q, want 7", got)
	}
	if got := rr.Header().Get("X-Generation-Tokens"); got != "" {
		t.Errorf("X-Generation-Tokens should be absent, got %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		status healthuc.Status
		want   int
	}{
		{"healthy", healthuc.Healthy, http.StatusOK},
		{"degraded", healthuc.Degraded, http.StatusServiceUnavailable},
		{"unhealthy", healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeAsker{}, &fakeHealth{report: healthuc.Report{
				Status: tt.status,
				Checks: map[string]healthuc.CheckResult{healthuc.ComponentIndex: healthuc.CheckOK},
			}})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.want)
			}
			var body HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != string(tt.status) {
				t.Errorf("body status: got %q, want %q", body.Status, tt.status)
			}
			if body.Checks[healthuc.ComponentIndex] != "ok" {
				t.Errorf("index check: got %q", body.Checks[healthuc.ComponentIndex])
			}
		})
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	h := newTestRouter(&fakeAsker{}, &fakeHealth{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/", http.NoBody))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /: got %d, want 405", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := JSONRecoverer(zap.NewNop())(panicky)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != CodeInternalError {
		t.Errorf("code: got %q", e.Code)
	}
}

func TestWideEvent_SetsRequestID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(zap.NewNop()))
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID: got %q, want req-123", got)
	}
}
