package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/metrics"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/rules"
	"github.com/mbd888/txrisk/internal/traces"
	"github.com/mbd888/txrisk/internal/transaction"
)

// DefaultWorkers bounds AssessBatch parallelism.
const DefaultWorkers = 4

// RuleSource yields the catalog snapshot for one assessment.
type RuleSource interface {
	Snapshot() *rules.Snapshot
}

// Pipeline scores a transaction, applies the rule catalog and combines the
// results. It holds no per-transaction state and is safe for concurrent use.
type Pipeline struct {
	calc      *risk.Calculator
	scorer    *risk.Scorer
	rules     RuleSource
	evaluator *rules.Evaluator

	store      Store
	aggregator *metrics.Aggregator
	now        func() time.Time
	workers    int
	logger     *slog.Logger
}

// NewPipeline wires the stages. A nil evaluator uses rules.NewEvaluator().
func NewPipeline(calc *risk.Calculator, source RuleSource, evaluator *rules.Evaluator) *Pipeline {
	if evaluator == nil {
		evaluator = rules.NewEvaluator()
	}
	return &Pipeline{
		calc:      calc,
		scorer:    risk.NewScorer(calc),
		rules:     source,
		evaluator: evaluator,
		now:       time.Now,
		workers:   DefaultWorkers,
	}
}

// WithStore records every final assessment to s.
func (p *Pipeline) WithStore(s Store) *Pipeline {
	p.store = s
	return p
}

// WithAggregator feeds every final assessment to a.
func (p *Pipeline) WithAggregator(a *metrics.Aggregator) *Pipeline {
	p.aggregator = a
	return p
}

// WithClock overrides the clock used to measure processing time.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithWorkers sets the AssessBatch worker bound.
func (p *Pipeline) WithWorkers(n int) *Pipeline {
	if n > 0 {
		p.workers = n
	}
	return p
}

// WithLogger attaches logger to every assessment's context. Without it the
// logger already carried by the caller's context is used.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// Assess runs every stage against one history slice and one catalog snapshot.
// It never fails: stage problems are logged and degrade to non-triggering.
func (p *Pipeline) Assess(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) RiskAssessment {
	start := p.now()

	if p.logger != nil {
		ctx = logging.WithLogger(ctx, p.logger)
	}
	ctx = logging.WithTransactionID(ctx, tx.ID)
	ctx, span := traces.StartSpan(ctx, "assessment.Assess",
		traces.TransactionID(tx.ID),
		traces.UserID(tx.UserID),
		traces.Amount(tx.Amount.String()),
		traces.MerchantCategory(tx.Merchant.Category),
	)
	defer span.End()

	var snap *rules.Snapshot
	if p.rules != nil {
		snap = p.rules.Snapshot()
	}

	a := RiskAssessment{TransactionID: tx.ID, Stage: StageNew}
	logger := logging.L(ctx)

	factors := p.calc.Factors(ctx, tx, history)
	h := p.scorer.Score(ctx, tx, factors)
	a.RiskFactors = factors.Clamped()
	a.OverallRiskScore = h.Score
	p.mustAdvance(ctx, &a, StageScored)

	v := p.evaluator.Evaluate(ctx, tx, a.RiskFactors, history, snap)
	a.RuleSeverity = v.Severity
	a.CatalogVersion = v.CatalogVersion
	p.mustAdvance(ctx, &a, StageRuled)

	d := Combine(h, v)
	a.TriggeredRules = d.Triggered
	a.Recommendation = d.Recommendation
	a.Confidence = d.Confidence
	a.ProcessingTime = p.now().Sub(start)
	p.mustAdvance(ctx, &a, StageFinal)

	span.SetAttributes(
		traces.RiskScore(a.OverallRiskScore),
		traces.Recommendation(string(a.Recommendation)),
		traces.CatalogVersion(a.CatalogVersion),
		traces.TriggeredRules(a.TriggeredRules),
	)

	metrics.ObserveAssessment(string(a.Recommendation), a.OverallRiskScore, a.ProcessingTime)
	if p.aggregator != nil {
		p.aggregator.Observe(string(a.Recommendation), a.OverallRiskScore, a.ProcessingTime)
	}
	if p.store != nil {
		if err := p.store.Record(ctx, a); err != nil {
			logger.Error("failed to record assessment", "error", err)
		}
	}

	logger.Debug("transaction assessed",
		"score", a.OverallRiskScore,
		"recommendation", string(a.Recommendation),
		"confidence", a.Confidence,
		"triggered", a.TriggeredRules,
		"rule_severity", a.RuleSeverity.String(),
		"catalog_version", a.CatalogVersion,
		"duration", a.ProcessingTime,
	)
	return a.clone()
}

// AssessBatch assesses txs in parallel against the same history slice.
// Results keep input order. Only context cancellation stops the batch early.
func (p *Pipeline) AssessBatch(ctx context.Context, txs []transaction.Transaction, history []transaction.Transaction) ([]RiskAssessment, error) {
	out := make([]RiskAssessment, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range txs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.Assess(gctx, txs[i], history)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assessment: batch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assessment: batch: %w", err)
	}
	return out, nil
}

// mustAdvance logs an out-of-order transition; the pipeline drives stages in
// sequence so this only fires on a programming error.
func (p *Pipeline) mustAdvance(ctx context.Context, a *RiskAssessment, to Stage) {
	if err := a.advance(to); err != nil {
		logging.L(ctx).Error("assessment stage error", "error", err)
	}
}
