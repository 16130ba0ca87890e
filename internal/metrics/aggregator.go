package metrics

import (
	"sync"
	"time"
)

// SystemMetrics is the running dashboard summary of assessed transactions.
type SystemMetrics struct {
	TotalTransactions     int64            `json:"totalTransactions"`
	Approved              int64            `json:"approvedTransactions"`
	Reviewed              int64            `json:"reviewedTransactions"`
	Declined              int64            `json:"declinedTransactions"`
	AverageRiskScore      float64          `json:"averageRiskScore"`
	AverageProcessingTime time.Duration    `json:"averageProcessingTime"`
	TransactionsPerSecond float64          `json:"transactionsPerSecond"`
	ScoreDistribution     map[string]int64 `json:"scoreDistribution"`
}

// Aggregator folds assessments into SystemMetrics. Safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	now       func() time.Time
	first     time.Time
	total     int64
	approved  int64
	reviewed  int64
	declined  int64
	scoreSum  int64
	procSum   time.Duration
	histogram map[string]int64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		now:       time.Now,
		histogram: make(map[string]int64),
	}
}

// WithClock overrides the clock used for the throughput rate.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Observe folds one final assessment into the running totals.
// recommendation is one of "APPROVE", "REVIEW", "DECLINE".
func (a *Aggregator) Observe(recommendation string, score int, processing time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.total == 0 {
		a.first = a.now()
	}
	a.total++
	switch recommendation {
	case "APPROVE":
		a.approved++
	case "REVIEW":
		a.reviewed++
	case "DECLINE":
		a.declined++
	}
	a.scoreSum += int64(score)
	a.procSum += processing
	a.histogram[scoreBucket(score)]++
}

// Snapshot returns the current summary.
func (a *Aggregator) Snapshot() SystemMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := SystemMetrics{
		TotalTransactions: a.total,
		Approved:          a.approved,
		Reviewed:          a.reviewed,
		Declined:          a.declined,
		ScoreDistribution: make(map[string]int64, len(a.histogram)),
	}
	for k, v := range a.histogram {
		m.ScoreDistribution[k] = v
	}
	if a.total == 0 {
		return m
	}
	m.AverageRiskScore = float64(a.scoreSum) / float64(a.total)
	m.AverageProcessingTime = a.procSum / time.Duration(a.total)
	if elapsed := a.now().Sub(a.first); elapsed > 0 {
		m.TransactionsPerSecond = float64(a.total) / elapsed.Seconds()
	}
	return m
}

// Reset clears all totals.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.first = time.Time{}
	a.total, a.approved, a.reviewed, a.declined = 0, 0, 0, 0
	a.scoreSum = 0
	a.procSum = 0
	a.histogram = make(map[string]int64)
}
