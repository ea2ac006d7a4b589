package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/strata/internal/app"
	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/engine"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
	"github.com/bobmcallan/strata/internal/services/backtest"
	"github.com/bobmcallan/strata/internal/services/jobmanager"
	"github.com/bobmcallan/strata/internal/services/marketdata"
	"github.com/bobmcallan/strata/internal/services/sweep"
	"github.com/bobmcallan/strata/internal/storage"
)

// newTestApp wires the application core against a throwaway store with the
// worker pool disabled, so tests drive execution explicitly.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Workers.Enabled = false
	cfg.Janitor.Enabled = false

	manager, err := storage.NewManager(logger, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	collector := metrics.NewCollector()
	market := marketdata.NewService(manager.MarketData(), logger, cfg.MarketData)
	registry := engine.NewRegistry(logger)
	executor := backtest.NewExecutor(manager, market, registry, logger, cfg.Workers.GetMaxAttempts())
	jm := jobmanager.NewManager(manager, executor, logger, collector, cfg.Workers, cfg.Janitor)

	hub := jm.Hub()
	backtests := backtest.NewService(manager, logger, collector, hub)
	sweeps := sweep.NewCoordinator(manager, logger, collector, hub)
	executor.SetSweepService(sweeps)
	executor.SetCollector(collector)
	executor.SetEventPublisher(hub)
	jm.SetSweepService(sweeps)

	return &app.App{
		Config:     cfg,
		Logger:     logger,
		Storage:    manager,
		Collector:  collector,
		MarketData: market,
		Backtests:  backtests,
		Sweeps:     sweeps,
		Executor:   executor,
		JobManager: jm,
	}
}

func newTestHandler(t *testing.T) (http.Handler, *app.App) {
	a := newTestApp(t)
	return NewServer(a).Handler(), a
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func backtestBody() map[string]interface{} {
	return map[string]interface{}{
		"strategyName":   "BuyAndHold",
		"symbol":         "AAPL",
		"startDate":      "2024-01-01",
		"endDate":        "2024-06-30",
		"parameters":     map[string]interface{}{},
		"initialCapital": 10000,
	}
}

// drain executes every queued job.
func drain(t *testing.T, a *app.App) {
	t.Helper()
	ctx := context.Background()
	for {
		jobID, ok, err := a.Storage.Queue().Pop(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		if !ok {
			return
		}
		require.NoError(t, a.Executor.Execute(ctx, jobID))
	}
}

func TestSubmitBacktest(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/backtests", backtestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotZero(t, result.JobID)
	assert.Equal(t, models.JobStatusQueued, result.Status)
	assert.False(t, result.IsExisting)

	// Resubmitting the identical spec returns the same job.
	rec = doJSON(t, handler, http.MethodPost, "/backtests", backtestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var dup models.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.Equal(t, result.JobID, dup.JobID)
	assert.True(t, dup.IsExisting)
}

func TestSubmitBacktest_Invalid(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/backtests", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON")

	body := backtestBody()
	delete(body, "symbol")
	rec = doJSON(t, handler, http.MethodPost, "/backtests", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid backtest request")

	body = backtestBody()
	body["endDate"] = "June 30"
	rec = doJSON(t, handler, http.MethodPost, "/backtests", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBacktest_InvertedIntervalRejected(t *testing.T) {
	handler, a := newTestHandler(t)

	body := backtestBody()
	body["startDate"] = "2024-12-31"
	body["endDate"] = "2024-01-01"
	rec := doJSON(t, handler, http.MethodPost, "/backtests", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "before start date")

	// The rejected request never enters the job lifecycle.
	depth, err := a.Storage.Queue().Len()
	require.NoError(t, err)
	assert.Zero(t, depth)
	jobs, err := a.Storage.Jobs().ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitBacktest_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/backtests", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestGetBacktest(t *testing.T) {
	handler, a := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/backtests", backtestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var submitted models.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/backtests/%d", submitted.JobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.JobStatusQueued, status.Job.Status)
	assert.Nil(t, status.Result)

	drain(t, a)

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/backtests/%d", submitted.JobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.JobStatusCompleted, status.Job.Status)
	require.NotNil(t, status.Result)
}

func TestGetBacktest_Errors(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/backtests/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid job id")

	rec = doJSON(t, handler, http.MethodGet, "/backtests/999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Job not found")
}

func TestBacktestChart(t *testing.T) {
	handler, a := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/backtests", backtestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var submitted models.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	chartPath := fmt.Sprintf("/backtests/%d/chart", submitted.JobID)

	// Queued jobs have no chart yet.
	rec = doJSON(t, handler, http.MethodGet, chartPath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	drain(t, a)

	rec = doJSON(t, handler, http.MethodGet, chartPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	// PNG magic bytes.
	require.Greater(t, rec.Body.Len(), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])
}

func TestSweepEndpoints(t *testing.T) {
	handler, a := newTestHandler(t)

	body := map[string]interface{}{
		"name":               "grid",
		"symbol":             "AAPL",
		"startDate":          "2024-01-01",
		"endDate":            "2024-06-30",
		"initialCapital":     10000,
		"optimizationMetric": "sharpeRatio",
		"strategies": []map[string]interface{}{
			{
				"strategyName": "MovingAverageCrossover",
				"parameterCombinations": []map[string]interface{}{
					{"shortPeriod": 5, "longPeriod": 20},
					{"shortPeriod": 10, "longPeriod": 50},
				},
			},
		},
	}

	rec := doJSON(t, handler, http.MethodPost, "/backtests/sweeps", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var submitted models.SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.NotZero(t, submitted.SweepJobID)
	assert.Equal(t, 2, submitted.TotalJobs)

	drain(t, a)

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/backtests/sweeps/%d", submitted.SweepJobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var final models.SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.CompletedJobs)
	require.NotNil(t, final.BestResult)
	assert.Contains(t, submitted.ChildJobIDs, final.BestResult.JobID)
}

func TestSweepEndpoints_Errors(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/backtests/sweeps", map[string]interface{}{"name": "incomplete"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/backtests/sweeps/424242", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sweep not found")
}

func TestListJobs(t *testing.T) {
	handler, _ := newTestHandler(t)

	for i := 0; i < 3; i++ {
		body := backtestBody()
		body["symbol"] = fmt.Sprintf("SYM%d", i)
		rec := doJSON(t, handler, http.MethodPost, "/backtests", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/jobs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Jobs      []*models.Job `json:"jobs"`
		QueueSize int           `json:"queue_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Jobs, 2)
	assert.Equal(t, 3, listing.QueueSize)
	// Most recent first.
	assert.Greater(t, listing.Jobs[0].ID, listing.Jobs[1].ID)
}

func TestHealthAndVersion(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	rec = doJSON(t, handler, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.NotEmpty(t, version["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "strata_jobs_submitted_total")
}

func TestRateLimiting(t *testing.T) {
	a := newTestApp(t)
	a.Config.Server.RateLimitRPS = 1
	handler := NewServer(a).Handler()

	limited := false
	for i := 0; i < 10; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/api/health", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestCorrelationIDHeader(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Correlation-ID"))
}
