package simulate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/txrisk/internal/assessment"
	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/transaction"
)

// Summary counts the outcome of a run.
type Summary struct {
	Assessed         int
	Skipped          int // transactions that failed validation
	ByRecommendation map[risk.Recommendation]int
}

// Runner streams generated transactions through the pipeline one at a time,
// keeping the recent-history buffer current.
type Runner struct {
	gen      *Generator
	pipeline *assessment.Pipeline
	history  *transaction.History
	logger   *slog.Logger
	observe  func(transaction.Transaction, assessment.RiskAssessment)
}

// NewRunner creates a runner. A nil history uses the default capacity.
func NewRunner(gen *Generator, pipeline *assessment.Pipeline, history *transaction.History) *Runner {
	if history == nil {
		history = transaction.NewHistory(transaction.DefaultHistoryCapacity)
	}
	return &Runner{
		gen:      gen,
		pipeline: pipeline,
		history:  history,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for per-transaction output.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// OnAssessment registers a callback invoked after every assessment.
func (r *Runner) OnAssessment(fn func(transaction.Transaction, assessment.RiskAssessment)) *Runner {
	r.observe = fn
	return r
}

// Run assesses n transactions. Each one is scored against the history as it
// stood before the transaction arrived, then appended to it.
func (r *Runner) Run(ctx context.Context, n int) (Summary, error) {
	sum := Summary{ByRecommendation: make(map[risk.Recommendation]int)}
	ctx = logging.WithLogger(ctx, r.logger)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("simulate: stopped after %d transactions: %w", sum.Assessed, err)
		}
		tx := r.gen.Next()
		txCtx := logging.WithTransactionID(ctx, tx.ID)
		if err := tx.Validate(); err != nil {
			logging.L(txCtx).Warn("skipping invalid transaction", "error", err)
			sum.Skipped++
			continue
		}

		a := r.pipeline.Assess(txCtx, tx, r.history.Snapshot())
		r.history.Push(tx)
		r.report(txCtx, &sum, tx, a)
	}
	return sum, nil
}

// RunBatched assesses n transactions in parallel chunks of size. Every
// transaction in a chunk sees the history as it stood before the chunk.
func (r *Runner) RunBatched(ctx context.Context, n, size int) (Summary, error) {
	if size <= 1 {
		return r.Run(ctx, n)
	}
	sum := Summary{ByRecommendation: make(map[risk.Recommendation]int)}
	ctx = logging.WithLogger(ctx, r.logger)

	for done := 0; done < n; {
		chunk := make([]transaction.Transaction, 0, size)
		for len(chunk) < size && done+len(chunk)+sum.Skipped < n {
			tx := r.gen.Next()
			if err := tx.Validate(); err != nil {
				logging.L(logging.WithTransactionID(ctx, tx.ID)).Warn("skipping invalid transaction", "error", err)
				sum.Skipped++
				continue
			}
			chunk = append(chunk, tx)
		}
		if len(chunk) == 0 {
			break
		}

		results, err := r.pipeline.AssessBatch(ctx, chunk, r.history.Snapshot())
		if err != nil {
			return sum, fmt.Errorf("simulate: stopped after %d transactions: %w", sum.Assessed, err)
		}
		for i, tx := range chunk {
			r.history.Push(tx)
			r.report(logging.WithTransactionID(ctx, tx.ID), &sum, tx, results[i])
		}
		done += len(chunk)
	}
	return sum, nil
}

func (r *Runner) report(ctx context.Context, sum *Summary, tx transaction.Transaction, a assessment.RiskAssessment) {
	sum.Assessed++
	sum.ByRecommendation[a.Recommendation]++
	logging.L(ctx).Info("transaction assessed",
		"user_id", tx.UserID,
		"amount", tx.Amount.StringFixed(2),
		"merchant_category", tx.Merchant.Category,
		"country", tx.Location.Country,
		"score", a.OverallRiskScore,
		"recommendation", string(a.Recommendation),
		"confidence", a.Confidence,
		"triggered", a.TriggeredRules,
	)
	if r.observe != nil {
		r.observe(tx, a)
	}
}
