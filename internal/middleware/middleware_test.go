package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	"github.com/zhouzirui/interview-sim/backend/internal/middleware"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := middleware.CORS([]string{"http://localhost:5173"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	h := middleware.CORS([]string{"http://localhost:5173"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowlistCheckOrigin(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{name: "no origin header", origins: []string{"http://localhost:5173"}, origin: "", want: true},
		{name: "listed origin", origins: []string{"http://localhost:5173"}, origin: "http://localhost:5173", want: true},
		{name: "foreign origin", origins: []string{"http://localhost:5173"}, origin: "https://evil.example", want: false},
		{name: "wildcard", origins: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "empty allowlist", origins: nil, origin: "http://localhost:5173", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ws/s1", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, middleware.NewOriginAllowlist(tc.origins).CheckOrigin(req))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := middleware.CORS([]string{"http://localhost:3000"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Session-Id")

	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logging.NewNop(), m))
	r.Get("/api/personas/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas/42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	count, err := testutil.GatherAndCount(m.Registry(), "interview_sim_http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
