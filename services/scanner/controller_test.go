package scanner

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMetricsSmoothing(t *testing.T) {
	controller := NewController()

	// ewma seeds from zero and weights the new sample at 0.2
	controller.UpdateMetrics(time.Second*10, 5, 0, true)
	require.InDelta(t, 2.0, controller.Snapshot().AvgResponseTime.Seconds(), 1e-6)

	controller.UpdateMetrics(time.Second*10, 5, 0, true)
	require.InDelta(t, 3.6, controller.Snapshot().AvgResponseTime.Seconds(), 1e-6)
}

func TestMetricsEmptyScanStreak(t *testing.T) {
	controller := NewController()

	for i := 0; i < 3; i++ {
		controller.UpdateMetrics(time.Second, 0, 0, true)
	}
	require.Equal(t, 3, controller.Snapshot().ConsecutiveEmptyScans)

	controller.UpdateMetrics(time.Second, 7, 0, true)
	metrics := controller.Snapshot()
	require.Zero(t, metrics.ConsecutiveEmptyScans)
	require.Equal(t, 7, metrics.LastLoadsFound)
}

func TestMetricsErrorDecay(t *testing.T) {
	controller := NewController()

	controller.UpdateMetrics(time.Second, 0, 3, false)
	require.InDelta(t, 3, controller.Snapshot().ErrorCount, 1e-9)

	controller.UpdateMetrics(time.Second, 5, 0, true)
	require.InDelta(t, 2.9, controller.Snapshot().ErrorCount, 1e-9)

	// decays toward zero but never below it
	for i := 0; i < 50; i++ {
		controller.UpdateMetrics(time.Second, 5, 0, true)
	}
	require.Zero(t, controller.Snapshot().ErrorCount)
}

func TestMetricsSuccessWindow(t *testing.T) {
	controller := NewController()

	// empty window counts as fully healthy
	require.Equal(t, 1.0, controller.Snapshot().SuccessRate)

	for i := 0; i < 30; i++ {
		controller.UpdateMetrics(time.Second, 5, 0, i%3 != 0)
	}
	require.InDelta(t, 2.0/3.0, controller.Snapshot().SuccessRate, 0.01)

	// the window holds 100 samples; older outcomes age out
	for i := 0; i < 100; i++ {
		controller.UpdateMetrics(time.Second, 5, 0, true)
	}
	require.Equal(t, 1.0, controller.Snapshot().SuccessRate)
}

func TestStrategyColdStart(t *testing.T) {
	controller := NewController()

	// before any cycle the empty window reports success rate 1.0,
	// which must not read as proven health
	require.Empty(t, cmp.Diff(BaselineStrategy(), controller.Strategy()))

	// one perfect cycle is evidence enough for the aggressive path
	controller.UpdateMetrics(time.Second, 5, 0, true)
	require.Equal(t, 5, controller.Strategy().Concurrency)

	controller = NewController()
	controller.UpdateMetrics(time.Second, 0, 1, false)
	require.Equal(t, 1, controller.Strategy().Concurrency)
}

func TestAdaptationLevels(t *testing.T) {
	cases := []struct {
		metrics HealthMetrics
		level   AdaptationLevel
	}{
		{HealthMetrics{SuccessRate: 0.99, AvgResponseTime: time.Second}, LevelOptimal},
		{HealthMetrics{SuccessRate: 0.99, AvgResponseTime: time.Second * 4}, LevelGood},
		{HealthMetrics{SuccessRate: 0.85, AvgResponseTime: time.Second * 2}, LevelGood},
		{HealthMetrics{SuccessRate: 0.7, AvgResponseTime: time.Second * 2}, LevelDegraded},
		{HealthMetrics{SuccessRate: 0.85, AvgResponseTime: time.Second * 20}, LevelDegraded},
		{HealthMetrics{SuccessRate: 0.5, AvgResponseTime: time.Second * 20}, LevelCritical},
	}
	for _, c := range cases {
		require.Equal(t, c.level, c.metrics.Level(), "metrics: %+v", c.metrics)
	}
}

func TestShouldTriggerRecovery(t *testing.T) {
	require.True(t, HealthMetrics{SuccessRate: 0.2, ErrorCount: 25}.ShouldTriggerRecovery())
	require.True(t, HealthMetrics{SuccessRate: 0.9, AvgResponseTime: time.Second * 31}.ShouldTriggerRecovery())
	require.True(t, HealthMetrics{SuccessRate: 0.9, ConsecutiveEmptyScans: 51}.ShouldTriggerRecovery())
	require.False(t, HealthMetrics{SuccessRate: 0.9, ErrorCount: 3, AvgResponseTime: time.Second * 2}.ShouldTriggerRecovery())
}

func TestDeriveStrategyRules(t *testing.T) {
	healthy := HealthMetrics{SuccessRate: 0.99, AvgResponseTime: time.Second, ErrorCount: 0}
	fast := DeriveStrategy(healthy)
	require.Empty(t, cmp.Diff(ScanStrategy{
		Interval:         time.Second * 2,
		Concurrency:      5,
		Timeout:          time.Second * 15,
		MaxRetries:       2,
		UseFastTransport: true,
	}, fast))

	erroring := DeriveStrategy(HealthMetrics{SuccessRate: 0.9, ErrorCount: 6})
	require.Equal(t, time.Second*5, erroring.Interval)
	require.Equal(t, 1, erroring.Concurrency)
	require.True(t, erroring.CaptureDiagnostics)
	require.Equal(t, 1, erroring.MaxRetries)

	slow := DeriveStrategy(HealthMetrics{SuccessRate: 0.9, AvgResponseTime: time.Second * 6})
	require.Equal(t, time.Second*30, slow.Timeout)
	require.Equal(t, time.Second*4, slow.Interval)

	empty := DeriveStrategy(HealthMetrics{SuccessRate: 0.9, ConsecutiveEmptyScans: 11})
	require.Equal(t, time.Second*4, empty.Interval)
	require.False(t, empty.UseFastTransport)

	failing := DeriveStrategy(HealthMetrics{SuccessRate: 0.5, ErrorCount: 6, AvgResponseTime: time.Second * 6})
	require.Equal(t, time.Second*8, failing.Interval)
	require.Equal(t, 1, failing.Concurrency)
	require.Equal(t, time.Second*45, failing.Timeout)
	require.True(t, failing.CaptureDiagnostics)
}

// worse metrics on every axis must never produce a faster or more
// parallel strategy
func TestDeriveStrategyMonotonic(t *testing.T) {
	successRates := []float64{1.0, 0.9, 0.65, 0.2}
	responseTimes := []time.Duration{time.Second, time.Second * 6, time.Second * 31}
	errorCounts := []float64{0, 6, 25}
	emptyScans := []int{0, 15, 60}

	var grid []HealthMetrics
	for _, sr := range successRates {
		for _, rt := range responseTimes {
			for _, ec := range errorCounts {
				for _, es := range emptyScans {
					grid = append(grid, HealthMetrics{
						SuccessRate:           sr,
						AvgResponseTime:       rt,
						ErrorCount:            ec,
						ConsecutiveEmptyScans: es,
					})
				}
			}
		}
	}

	worseOrEqual := func(a, b HealthMetrics) bool {
		return a.SuccessRate <= b.SuccessRate &&
			a.AvgResponseTime >= b.AvgResponseTime &&
			a.ErrorCount >= b.ErrorCount &&
			a.ConsecutiveEmptyScans >= b.ConsecutiveEmptyScans
	}

	for _, a := range grid {
		for _, b := range grid {
			if !worseOrEqual(a, b) {
				continue
			}
			sa := DeriveStrategy(a)
			sb := DeriveStrategy(b)
			require.GreaterOrEqual(
				t, sa.Interval, sb.Interval,
				"worse %+v got shorter interval than %+v", a, b,
			)
			require.LessOrEqual(
				t, sa.Concurrency, sb.Concurrency,
				"worse %+v got more concurrency than %+v", a, b,
			)
		}
	}
}
