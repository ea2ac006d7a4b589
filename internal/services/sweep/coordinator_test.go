package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/engine"
	"github.com/bobmcallan/strata/internal/metrics"
	"github.com/bobmcallan/strata/internal/models"
	"github.com/bobmcallan/strata/internal/services/backtest"
	"github.com/bobmcallan/strata/internal/services/marketdata"
	"github.com/bobmcallan/strata/internal/storage"
)

type sweepEnv struct {
	storage     *storage.Manager
	coordinator *Coordinator
	executor    *backtest.Executor
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = t.TempDir()
	manager, err := storage.NewManager(logger, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	market := marketdata.NewService(manager.MarketData(), logger, common.MarketDataConfig{
		CacheTTL:          "1m",
		SyntheticFallback: true,
	})
	registry := engine.NewRegistry(logger)

	coordinator := NewCoordinator(manager, logger, metrics.NewCollector(), nil)
	executor := backtest.NewExecutor(manager, market, registry, logger, 3)
	executor.SetSweepService(coordinator)

	return &sweepEnv{storage: manager, coordinator: coordinator, executor: executor}
}

func sweepRequest() *models.SweepRequest {
	return &models.SweepRequest{
		Name:               "ma-grid",
		Symbol:             "AAPL",
		StartDate:          "2024-01-01",
		EndDate:            "2024-06-30",
		InitialCapital:     10000,
		OptimizationMetric: "sharpeRatio",
		Strategies: []models.SweepStrategyConfig{
			{
				Strategy: "MovingAverageCrossover",
				ParameterCombinations: []map[string]interface{}{
					{"shortPeriod": 5, "longPeriod": 20},
					{"shortPeriod": 10, "longPeriod": 50},
				},
			},
			{
				Strategy: "BuyAndHold",
				ParameterCombinations: []map[string]interface{}{
					{},
				},
			},
		},
	}
}

// drain executes queued jobs until the queue is empty.
func (env *sweepEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		jobID, ok, err := env.storage.Queue().Pop(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		if !ok {
			return
		}
		require.NoError(t, env.executor.Execute(ctx, jobID))
	}
}

func TestSubmit_FansOutChildren(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	resp, err := env.coordinator.Submit(ctx, sweepRequest())
	require.NoError(t, err)

	assert.NotZero(t, resp.SweepJobID)
	assert.Equal(t, models.JobStatusQueued, resp.Status)
	assert.Equal(t, 3, resp.TotalJobs)
	require.Len(t, resp.ChildJobIDs, 3)

	depth, err := env.storage.Queue().Len()
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	children, err := env.storage.Jobs().ListBySweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, child := range children {
		assert.Equal(t, resp.SweepJobID, child.SweepID)
		assert.Equal(t, models.JobStatusQueued, child.Status)
		assert.Contains(t, child.DedupKey, "sweep_")
	}
}

func TestSubmit_SkipsDuplicateCombinations(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	req := sweepRequest()
	req.Strategies = []models.SweepStrategyConfig{
		{
			Strategy: "BuyAndHold",
			ParameterCombinations: []map[string]interface{}{
				{}, {},
			},
		},
	}

	resp, err := env.coordinator.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalJobs)
	assert.Len(t, resp.ChildJobIDs, 1)

	// The stored row carries the de-duplicated total from creation, so the
	// sweep completes as soon as its only child does.
	stored, err := env.storage.Sweeps().Get(ctx, resp.SweepJobID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalJobs)

	env.drain(t)

	final, err := env.coordinator.GetSweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 1, final.CompletedJobs)
}

func TestSubmit_EmptyExpansionRejected(t *testing.T) {
	env := newSweepEnv(t)

	req := sweepRequest()
	req.Strategies = []models.SweepStrategyConfig{
		{Strategy: "BuyAndHold", ParameterCombinations: nil},
	}

	_, err := env.coordinator.Submit(context.Background(), req)
	assert.ErrorContains(t, err, "zero parameter combinations")
}

func TestSweep_CompletesAndSelectsBest(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	resp, err := env.coordinator.Submit(ctx, sweepRequest())
	require.NoError(t, err)

	env.drain(t)

	final, err := env.coordinator.GetSweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CompletedJobs)
	assert.Equal(t, 0, final.FailedJobs)

	require.NotNil(t, final.BestResult)
	assert.Contains(t, resp.ChildJobIDs, final.BestResult.JobID)

	// The winner's metric must equal the maximum over all children.
	results, err := env.storage.Results().LatestForJobs(ctx, resp.ChildJobIDs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	best := results[resp.ChildJobIDs[0]].MetricValue("sharpeRatio")
	for _, r := range results {
		if v := r.MetricValue("sharpeRatio"); v > best {
			best = v
		}
	}
	assert.InDelta(t, best, final.BestResult.OptimizationMetricValue, 0.0001)
}

func TestOnChildTerminal_RecountsUnderLock(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	resp, err := env.coordinator.Submit(ctx, sweepRequest())
	require.NoError(t, err)
	children, err := env.storage.Jobs().ListBySweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	require.Len(t, children, 3)

	// Complete one child by hand.
	first, release, err := env.storage.Jobs().Lock(ctx, children[0].ID)
	require.NoError(t, err)
	first.Status = models.JobStatusCompleted
	require.NoError(t, env.storage.Jobs().Save(ctx, first))
	release()
	require.NoError(t, env.storage.Results().Create(ctx, &models.BacktestResult{
		JobID:       first.ID,
		SharpeRatio: 2.1,
	}))

	require.NoError(t, env.coordinator.OnChildTerminal(ctx, resp.SweepJobID, first.ID))

	mid, err := env.coordinator.GetSweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, mid.Status)
	assert.Equal(t, 1, mid.CompletedJobs)
	assert.Nil(t, mid.BestResult)

	// Fail the remaining children.
	for _, child := range children[1:] {
		locked, release, err := env.storage.Jobs().Lock(ctx, child.ID)
		require.NoError(t, err)
		locked.Status = models.JobStatusFailed
		require.NoError(t, env.storage.Jobs().Save(ctx, locked))
		release()
		require.NoError(t, env.coordinator.OnChildTerminal(ctx, resp.SweepJobID, child.ID))
	}

	final, err := env.coordinator.GetSweep(ctx, resp.SweepJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 1, final.CompletedJobs)
	assert.Equal(t, 2, final.FailedJobs)
	require.NotNil(t, final.BestResult)
	assert.Equal(t, children[0].ID, final.BestResult.JobID)
	assert.InDelta(t, 2.1, final.BestResult.OptimizationMetricValue, 0.0001)
}

func TestOnChildTerminal_UnknownSweepIsIgnored(t *testing.T) {
	env := newSweepEnv(t)
	assert.NoError(t, env.coordinator.OnChildTerminal(context.Background(), 9999, 1))
}

func TestGetSweep_Missing(t *testing.T) {
	env := newSweepEnv(t)
	_, err := env.coordinator.GetSweep(context.Background(), 777)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
