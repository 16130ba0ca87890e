// Package metrics provides Prometheus instrumentation for the risk pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txrisk"

var (
	// AssessmentsTotal counts final assessments by recommendation.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Total transactions assessed by final recommendation.",
		},
		[]string{"recommendation"},
	)

	// AssessmentDuration observes end-to-end pipeline latency.
	AssessmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Time to assess a single transaction in seconds.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	// RiskScore observes the distribution of overall risk scores.
	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of overall risk scores (0-100).",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		},
	)

	// RuleTriggersTotal counts triggered catalog rules and global checks by
	// category and severity. Rule names are operator-chosen and stay out of labels.
	RuleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "triggers_total",
			Help:      "Total rule and global check triggers by category and severity.",
		},
		[]string{"category", "severity"},
	)

	// RuleEvaluationErrorsTotal counts rules that could not be evaluated.
	RuleEvaluationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluation_errors_total",
			Help:      "Total rules treated as non-triggering because they could not be evaluated.",
		},
		[]string{"reason"}, // "window", "category", "condition", "panic"
	)

	// RulesSkippedTotal counts rules skipped because the evaluation budget ran out.
	RulesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "skipped_total",
		Help:      "Total catalog rules skipped by the per-evaluation rule budget.",
	})

	// CatalogVersion tracks the version of the latest published rule snapshot.
	CatalogVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "catalog_version",
		Help:      "Version of the most recently published rule catalog snapshot.",
	})

	// CatalogActiveRules tracks how many rules the latest snapshot evaluates.
	CatalogActiveRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "active_rules",
		Help:      "Number of active rules in the latest catalog snapshot.",
	})

	// DeviceSignalErrorsTotal counts device signal failures replaced by 0.
	DeviceSignalErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_signal_errors_total",
		Help:      "Total device signal errors or non-finite values treated as zero risk.",
	})

	// BreakerTransitionsTotal counts circuit breaker state changes per guarded source.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
		},
		[]string{"key", "from_state", "to_state"},
	)
)

func init() {
	prometheus.MustRegister(
		AssessmentsTotal,
		AssessmentDuration,
		RiskScore,
		RuleTriggersTotal,
		RuleEvaluationErrorsTotal,
		RulesSkippedTotal,
		CatalogVersion,
		CatalogActiveRules,
		DeviceSignalErrorsTotal,
		BreakerTransitionsTotal,
	)
}

// ObserveAssessment records one final assessment.
func ObserveAssessment(recommendation string, score int, processing time.Duration) {
	AssessmentsTotal.WithLabelValues(recommendation).Inc()
	AssessmentDuration.Observe(processing.Seconds())
	RiskScore.Observe(float64(score))
}

// ObserveCatalog records a newly published catalog snapshot.
func ObserveCatalog(version uint64, activeRules int) {
	CatalogVersion.Set(float64(version))
	CatalogActiveRules.Set(float64(activeRules))
}

// scoreBucket groups scores into deciles ("0-9", ..., "90-100") for log fields.
func scoreBucket(score int) string {
	switch {
	case score < 0:
		return "0-9"
	case score >= 90:
		return "90-100"
	default:
		lo := score / 10 * 10
		return strconv.Itoa(lo) + "-" + strconv.Itoa(lo+9)
	}
}
