package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func apiRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":"podrag"}`))
	})
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r
}

func TestMiddleware_LabelsServedRoutes(t *testing.T) {
	r := apiRouter()

	tests := []struct {
		method string
		target string
		route  string
		status string
	}{
		{"GET", "/", "/", "200"},
		{"POST", "/", "/", "200"},
		{"POST", "/?fail=1", "/", "502"},
		{"GET", "/health", "/health", "503"},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			counter := httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status)
			before := testutil.ToFloat64(counter)

			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(`{}`))
			r.ServeHTTP(httptest.NewRecorder(), req)

			if got := testutil.ToFloat64(counter); got != before+1 {
				t.Errorf("requests_total{%s,%s,%s} = %v, want %v", tc.method, tc.route, tc.status, got, before+1)
			}
		})
	}

	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected http_request_duration_seconds observations")
	}
}

func TestMiddleware_UnknownPathsCollapse(t *testing.T) {
	r := apiRouter()
	counter := httpRequestsTotal.WithLabelValues("GET", RouteOther, "404")
	before := testutil.ToFloat64(counter)

	for _, p := range []string{"/wp-admin", "/episodes/42", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", p, http.NoBody))
	}

	if got := testutil.ToFloat64(counter); got != before+3 {
		t.Errorf("other/404 = %v, want %v", got, before+3)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"", RouteOther},
		{"/api/v1/users", RouteOther},
	}

	for _, tc := range tests {
		if got := routeLabel(tc.input); got != tc.expected {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
