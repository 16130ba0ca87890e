package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestScoreBucket(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{-1, "0-9"},
		{0, "0-9"},
		{9, "0-9"},
		{10, "10-19"},
		{55, "50-59"},
		{89, "80-89"},
		{90, "90-100"},
		{100, "90-100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scoreBucket(tt.score), "scoreBucket(%d)", tt.score)
	}
}

func TestObserveAssessment(t *testing.T) {
	c := AssessmentsTotal.WithLabelValues("REVIEW")
	before := counterValue(t, c)

	ObserveAssessment("REVIEW", 55, 2*time.Millisecond)

	assert.Equal(t, before+1, counterValue(t, c))
}

func TestObserveCatalog(t *testing.T) {
	ObserveCatalog(7, 3)
	assert.Equal(t, 7.0, gaugeValue(t, CatalogVersion))
	assert.Equal(t, 3.0, gaugeValue(t, CatalogActiveRules))
}

func TestCollectorsRegistered(t *testing.T) {
	RuleTriggersTotal.WithLabelValues("GLOBAL", "BLOCK").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"txrisk_rules_catalog_version",
		"txrisk_rules_active_rules",
		"txrisk_rules_triggers_total",
	} {
		assert.True(t, names[want], "expected %s to be registered", want)
	}
}

func TestAggregator_Empty(t *testing.T) {
	m := NewAggregator().Snapshot()
	assert.Zero(t, m.TotalTransactions)
	assert.Zero(t, m.AverageRiskScore)
	assert.Zero(t, m.TransactionsPerSecond)
	assert.Empty(t, m.ScoreDistribution)
}

func TestAggregator_Observe(t *testing.T) {
	start := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	now := start
	agg := NewAggregator().WithClock(func() time.Time { return now })

	agg.Observe("APPROVE", 20, 10*time.Millisecond)
	agg.Observe("REVIEW", 60, 20*time.Millisecond)
	agg.Observe("DECLINE", 95, 30*time.Millisecond)
	agg.Observe("DECLINE", 85, 40*time.Millisecond)
	now = start.Add(2 * time.Second)

	m := agg.Snapshot()
	assert.Equal(t, int64(4), m.TotalTransactions)
	assert.Equal(t, int64(1), m.Approved)
	assert.Equal(t, int64(1), m.Reviewed)
	assert.Equal(t, int64(2), m.Declined)
	assert.InDelta(t, 65.0, m.AverageRiskScore, 1e-9)
	assert.Equal(t, 25*time.Millisecond, m.AverageProcessingTime)
	assert.InDelta(t, 2.0, m.TransactionsPerSecond, 1e-9)
	assert.Equal(t, map[string]int64{"20-29": 1, "60-69": 1, "80-89": 1, "90-100": 1}, m.ScoreDistribution)
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	agg := NewAggregator()
	agg.Observe("APPROVE", 5, time.Millisecond)

	m := agg.Snapshot()
	m.ScoreDistribution["0-9"] = 100

	assert.Equal(t, int64(1), agg.Snapshot().ScoreDistribution["0-9"])
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator()
	agg.Observe("APPROVE", 5, time.Millisecond)
	agg.Reset()

	m := agg.Snapshot()
	assert.Zero(t, m.TotalTransactions)
	assert.Empty(t, m.ScoreDistribution)
}

func TestAggregator_Concurrent(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Observe("APPROVE", 10, time.Microsecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), agg.Snapshot().TotalTransactions)
}
