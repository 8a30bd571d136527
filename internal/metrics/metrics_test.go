package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	m.ObserveProvider("ollama", time.Second, nil)
	m.ObserveSynthesis("kokoro", metrics.OutcomeOK, time.Second)
	m.SetQueueDepth(3)
	m.CountFrame("text")
	m.TrackSessions(func() int { return 1 })
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := metrics.New()
	m.ObserveProvider("ollama", time.Second, errors.New("boom"))
	m.CountFrame("done")
	m.TrackSessions(func() int { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `interview_sim_provider_requests_total{backend="ollama",outcome="error"} 1`))
	assert.True(t, strings.Contains(text, `interview_sim_stream_frames_total{kind="done"} 1`))
	assert.True(t, strings.Contains(text, "interview_sim_sessions_active 7"))
}

func TestObserveSynthesisCounts(t *testing.T) {
	m := metrics.New()
	m.ObserveSynthesis("kokoro", metrics.OutcomeOK, time.Second)
	m.ObserveSynthesis("kokoro", metrics.OutcomeOK, time.Second)

	count, err := testutil.GatherAndCount(m.Registry(), "interview_sim_speech_synthesis_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
