// Package assessment merges the heuristic score and the rule verdict into the
// final per-transaction RiskAssessment, and runs the scoring pipeline.
//
// Stages only move forward: NEW -> SCORED -> RULED -> FINAL. The combiner
// can escalate a recommendation but never relax it, and confidence only grows
// when the rule stage contributes new evidence.
package assessment

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/rules"
)

var (
	ErrStageOrder = errors.New("assessment: stage transition out of order")
	ErrNotFound   = errors.New("assessment: not found")
)

// Stage is the lifecycle position of an assessment.
type Stage int

const (
	StageNew Stage = iota
	StageScored
	StageRuled
	StageFinal
)

func (s Stage) String() string {
	switch s {
	case StageNew:
		return "NEW"
	case StageScored:
		return "SCORED"
	case StageRuled:
		return "RULED"
	case StageFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// RiskAssessment is the verdict on one transaction. Records returned by the
// pipeline are always FINAL and are never modified afterwards.
type RiskAssessment struct {
	TransactionID    string              `json:"transactionId"`
	OverallRiskScore int                 `json:"overallRiskScore"`
	RiskFactors      risk.Factors        `json:"riskFactors"`
	TriggeredRules   []string            `json:"triggeredRules"`
	Recommendation   risk.Recommendation `json:"recommendation"`
	Confidence       int                 `json:"confidence"`
	ProcessingTime   time.Duration       `json:"processingTime"`
	RuleSeverity     rules.Severity      `json:"ruleSeverity"`
	CatalogVersion   uint64              `json:"catalogVersion"`
	Stage            Stage               `json:"stage"`
}

// advance moves a to the next stage. Skipping or repeating a stage is an error.
func (a *RiskAssessment) advance(to Stage) error {
	if to != a.Stage+1 {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, a.Stage, to)
	}
	a.Stage = to
	return nil
}

// clone returns a copy that shares no slices with a.
func (a RiskAssessment) clone() RiskAssessment {
	if a.TriggeredRules != nil {
		a.TriggeredRules = append([]string(nil), a.TriggeredRules...)
	}
	return a
}

// Decision is the combiner's output.
type Decision struct {
	Recommendation risk.Recommendation
	Triggered      []string
	Confidence     int
	Severity       rules.Severity
}

// Combine merges the heuristic result with the rule verdict.
//
// BLOCK forces DECLINE. FLAG or LIMIT lifts APPROVE to REVIEW. Otherwise the
// heuristic recommendation stands. Trigger names are the heuristic flags
// followed by the rule names, first occurrence wins. Confidence is recomputed
// with the extra rule names counted as flags, and never drops below the
// heuristic confidence.
func Combine(h risk.Heuristic, v rules.Verdict) Decision {
	rec := h.Recommendation
	switch {
	case v.Severity >= rules.SeverityBlock:
		rec = risk.Decline
	case v.Severity == rules.SeverityFlag && rec.Severity() < risk.Review.Severity():
		rec = risk.Review
	}

	seen := make(map[string]struct{}, len(h.Flags)+len(v.Triggered))
	triggered := make([]string, 0, len(h.Flags)+len(v.Triggered))
	for _, name := range h.Flags {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		triggered = append(triggered, name)
	}
	heuristicCount := len(triggered)
	for _, name := range v.Triggered {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		triggered = append(triggered, name)
	}

	confidence := h.Confidence
	if added := len(triggered) - heuristicCount; added > 0 {
		if c := risk.Confidence(h.Dispersion, heuristicCount+added); c > confidence {
			confidence = c
		}
	}

	return Decision{
		Recommendation: rec,
		Triggered:      triggered,
		Confidence:     confidence,
		Severity:       v.Severity,
	}
}
