package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply-billing/internal/config"
	"supply-billing/internal/reconciliation/infrastructure/memory"
)

func TestPreviousMonth(t *testing.T) {
	p := PreviousMonth(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	end, ok := p.End()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), end)

	p = PreviousMonth(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), p.Start())
}

func TestSchedulerNextRun(t *testing.T) {
	runner, err := NewRunner(memory.NewResultRepository(), memory.NewChargeTotals(), nil, config.ReconciliationConfig{ReportRoot: t.TempDir()})
	require.NoError(t, err)
	s, err := NewScheduler(runner, []string{"791"}, "03:30", nil)
	require.NoError(t, err)

	before := time.Date(2026, 2, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 10, 3, 30, 0, 0, time.UTC), s.NextRun(before))
	at := time.Date(2026, 2, 10, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 11, 3, 30, 0, 0, time.UTC), s.NextRun(at))

	_, err = NewScheduler(runner, nil, "25:00", nil)
	require.Error(t, err)
	_, err = NewScheduler(nil, nil, "03:00", nil)
	require.Error(t, err)
}

func TestSchedulerRunOnceReconcilesEveryArea(t *testing.T) {
	results := memory.NewResultRepository()
	ours := memory.NewChargeTotals()
	ours.Add("791", january(), "40000", decimal.RequireFromString("10"))
	runner, err := NewRunner(results, ours, nil, config.ReconciliationConfig{ReportRoot: t.TempDir()})
	require.NoError(t, err)

	s, err := NewScheduler(runner, []string{"791", "131"}, "03:00", nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 2, 2, 3, 0, 0, 0, time.UTC) }
	s.RunOnce(context.Background())

	stored := results.List()
	require.Len(t, stored, 2)
	for _, r := range stored {
		assert.True(t, r.Period().Equal(january()))
	}
}

func TestSchedulerStartReturnsOnCancel(t *testing.T) {
	runner, err := NewRunner(memory.NewResultRepository(), memory.NewChargeTotals(), nil, config.ReconciliationConfig{ReportRoot: t.TempDir()})
	require.NoError(t, err)
	s, err := NewScheduler(runner, []string{"791"}, "03:00", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
