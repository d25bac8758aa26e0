package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bankrec/internal/observability"
	"github.com/odyssey-erp/odyssey-bankrec/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.OpsAddr)
	assert.Equal(t, "0 3 * * *", cfg.ReconcileCron)
	assert.Equal(t, "default", cfg.NotifyQueue)

	m := cfg.Matcher()
	assert.Equal(t, 80, m.AutoThreshold)
	assert.Equal(t, 20, m.ProposalMinScore)
	assert.Equal(t, 5, m.ProposalLimit)
	assert.Equal(t, 30, m.WindowDays)
	assert.Equal(t, 10*time.Minute, m.CacheTTL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MATCH_AUTO_THRESHOLD", "90")
	t.Setenv("MATCH_WINDOW_DAYS", "45")
	t.Setenv("PROPOSAL_CACHE_TTL", "1m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	m := cfg.Matcher()
	assert.Equal(t, 90, m.AutoThreshold)
	assert.Equal(t, 45, m.WindowDays)
	assert.Equal(t, time.Minute, m.CacheTTL)
}

func TestLoadConfigRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("MATCH_AUTO_THRESHOLD", "30")
	t.Setenv("MATCH_PROPOSAL_MIN_SCORE", "40")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestNilConfigUsesDefaultMatcher(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 80, cfg.Matcher().AutoThreshold)
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json"}, &buf).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterHealthzDegradedWhenDatabaseDown(t *testing.T) {
	router := NewRouter(RouterParams{
		Config: &Config{},
		Database: PingFunc(func(context.Context) error {
			return errors.New("connection refused")
		}),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterMountsJobsAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:     &Config{},
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    metrics,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `bankrec_http_requests_total{code="200",route="/jobs/health"} 1`)
}

func TestRouterRateLimits(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{OpsRateLimit: 2}})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
