package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/metrics"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/transaction"
)

// DefaultMaxRulesPerEvaluation caps how many catalog rules one evaluation runs.
const DefaultMaxRulesPerEvaluation = 256

// DefaultNightEndHour is the last hour of the night window TIME rules always
// treat as qualifying.
const DefaultNightEndHour = 6

const dailyWindow = 24 * time.Hour

// categoryGlobal labels global check hits in the trigger counter.
const categoryGlobal = "GLOBAL"

// Verdict is the rule stage's output for one transaction.
type Verdict struct {
	Triggered      []string // catalog rule names then global checks, in evaluation order
	Severity       Severity
	Evaluated      int      // catalog rules evaluated
	Skipped        int      // catalog rules skipped by the budget
	Malformed      []string // IDs of rules that could not be evaluated
	CatalogVersion uint64
}

// Input is what every predicate sees.
type Input struct {
	Tx      transaction.Transaction
	Factors risk.Factors
	History []transaction.Transaction
}

// predicate decides whether a compiled rule triggers for in.
type predicate func(e *Evaluator, in *Input, cr *CompiledRule) bool

// Evaluator applies a catalog snapshot to a transaction. It holds no
// catalog state of its own; the snapshot is passed on every call.
type Evaluator struct {
	handlers     map[Category]predicate
	maxRules     int
	nightEndHour int
}

// NewEvaluator creates an evaluator with the default budget.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		handlers: map[Category]predicate{
			CategoryAmount:   evalAmount,
			CategoryVelocity: evalVelocity,
			CategoryLocation: evalLocation,
			CategoryMerchant: evalMerchant,
			CategoryTime:     evalTime,
			CategoryDevice:   evalDevice,
		},
		maxRules:     DefaultMaxRulesPerEvaluation,
		nightEndHour: DefaultNightEndHour,
	}
}

// WithMaxRules overrides the per-evaluation rule budget. Non-positive means
// unlimited.
func (e *Evaluator) WithMaxRules(n int) *Evaluator {
	e.maxRules = n
	return e
}

// WithNightEndHour overrides the end of the always-qualifying night window.
func (e *Evaluator) WithNightEndHour(h int) *Evaluator {
	e.nightEndHour = h
	return e
}

// Evaluate runs every active rule in snap, then the global checks.
// It never fails: rules that cannot be evaluated are logged and skipped.
func (e *Evaluator) Evaluate(ctx context.Context, tx transaction.Transaction, f risk.Factors, history []transaction.Transaction, snap *Snapshot) Verdict {
	if snap == nil {
		snap = EmptySnapshot(GlobalSettings{})
	}
	in := &Input{Tx: tx, Factors: f.Clamped(), History: history}
	v := Verdict{CatalogVersion: snap.Version}
	logger := logging.L(ctx)

	for i := range snap.Rules {
		cr := &snap.Rules[i]
		// Rules already known to be malformed cost no budget.
		if cr.Err != nil {
			e.malformed(ctx, &v, cr, cr.Reason, cr.Err)
			continue
		}
		if e.maxRules > 0 && v.Evaluated >= e.maxRules {
			v.Skipped++
			continue
		}
		v.Evaluated++

		triggered, reason, err := e.evalRule(in, cr)
		if err != nil {
			e.malformed(ctx, &v, cr, reason, err)
			continue
		}
		if !triggered {
			continue
		}
		if !cr.Rule.Action.Known() {
			logger.Warn("unknown rule action, treating as FLAG",
				"rule_id", cr.Rule.ID, "action", string(cr.Rule.Action))
		}
		v.trigger(cr, cr.Rule.Action.Severity())
	}
	if v.Skipped > 0 {
		metrics.RulesSkippedTotal.Add(float64(v.Skipped))
		logger.Warn("rule budget exhausted, skipping remaining rules",
			"budget", e.maxRules, "skipped", v.Skipped, "catalog_version", snap.Version)
	}

	e.globalChecks(in, snap.Settings, &v)
	if snap.Settings.TestMode && len(v.Triggered) > 0 {
		logger.Debug("test mode: rules triggered", "triggered", v.Triggered, "severity", v.Severity.String())
	}
	return v
}

// trigger records a catalog rule hit.
func (v *Verdict) trigger(cr *CompiledRule, sev Severity) {
	v.hit(cr.Rule.DisplayName(), sev)
	metrics.RuleTriggersTotal.WithLabelValues(string(cr.Rule.Category), sev.String()).Inc()
}

// check records a global check hit.
func (v *Verdict) check(name string) {
	v.hit(name, SeverityBlock)
	metrics.RuleTriggersTotal.WithLabelValues(categoryGlobal, SeverityBlock.String()).Inc()
}

func (v *Verdict) hit(name string, sev Severity) {
	v.Triggered = append(v.Triggered, name)
	if sev > v.Severity {
		v.Severity = sev
	}
}

func (e *Evaluator) malformed(ctx context.Context, v *Verdict, cr *CompiledRule, reason string, err error) {
	metrics.RuleEvaluationErrorsTotal.WithLabelValues(reason).Inc()
	logging.L(ctx).Warn("rule could not be evaluated",
		"rule_id", cr.Rule.ID, "rule_name", cr.Rule.Name, "reason", reason, "error", err)
	v.Malformed = append(v.Malformed, cr.Rule.ID)
}

// evalRule runs one rule's predicate and condition. reason labels the
// failure when err is set. A panic inside a predicate becomes an error.
func (e *Evaluator) evalRule(in *Input, cr *CompiledRule) (triggered bool, reason string, err error) {
	if cr.Err != nil {
		return false, cr.Reason, cr.Err
	}
	defer func() {
		if r := recover(); r != nil {
			triggered, reason, err = false, "panic", fmt.Errorf("rule predicate panicked: %v", r)
		}
	}()

	pred, ok := e.handlers[cr.Rule.Category]
	if !ok {
		return false, "category", fmt.Errorf("%w: %q", ErrUnknownCat, cr.Rule.Category)
	}
	if !pred(e, in, cr) {
		return false, "", nil
	}
	if cr.program == nil {
		return true, "", nil
	}
	ok, err = runCondition(cr.program, newConditionEnv(in.Tx, in.Factors, in.History))
	if err != nil {
		return false, "condition", err
	}
	return ok, "", nil
}

func (e *Evaluator) globalChecks(in *Input, s GlobalSettings, v *Verdict) {
	tx := in.Tx
	if s.MaxTransactionAmount.IsPositive() && tx.Amount.GreaterThan(s.MaxTransactionAmount) {
		v.check(CheckMaxAmount)
	}
	if containsFold(s.BlockedCountries, tx.Location.Country) {
		v.check(CheckBlockedCountry)
	}
	if containsFold(s.BlockedMerchantCategories, tx.Merchant.Category) {
		v.check(CheckBlockedMerchant)
	}
	if s.MaxDailyTransactions > 0 {
		prior := transaction.CountInWindow(in.History, tx.UserID, tx.ID, tx.Timestamp, dailyWindow, nil)
		if prior+1 > s.MaxDailyTransactions {
			v.check(CheckDailyLimit)
		}
	}
}

// Predicates by category.

func evalAmount(_ *Evaluator, in *Input, cr *CompiledRule) bool {
	return in.Tx.Amount.GreaterThanOrEqual(decimal.NewFromFloat(cr.Rule.Threshold))
}

// evalVelocity counts prior same-user transactions within the rule's window,
// optionally restricted to one merchant category.
func evalVelocity(_ *Evaluator, in *Input, cr *CompiledRule) bool {
	var match func(transaction.Transaction) bool
	if cat := cr.Rule.MerchantCategory; cat != "" {
		match = func(h transaction.Transaction) bool {
			return strings.EqualFold(h.Merchant.Category, cat)
		}
	}
	n := transaction.CountInWindow(in.History, in.Tx.UserID, in.Tx.ID, in.Tx.Timestamp, cr.Window, match)
	return float64(n) >= cr.Rule.Threshold
}

func evalLocation(_ *Evaluator, in *Input, cr *CompiledRule) bool {
	return in.Factors.Location >= cr.Rule.Threshold
}

func evalMerchant(_ *Evaluator, in *Input, cr *CompiledRule) bool {
	return in.Factors.Merchant >= cr.Rule.Threshold
}

// evalTime: factor at or above threshold, or the local hour is in the night window.
func evalTime(e *Evaluator, in *Input, cr *CompiledRule) bool {
	hour := in.Tx.LocalHour()
	return in.Factors.Time >= cr.Rule.Threshold || (hour >= 0 && hour <= e.nightEndHour)
}

func evalDevice(_ *Evaluator, in *Input, cr *CompiledRule) bool {
	return in.Factors.Device >= cr.Rule.Threshold
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
