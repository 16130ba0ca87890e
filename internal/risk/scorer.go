package risk

import (
	"context"
	"math"

	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/transaction"
)

// Heuristic is the scorer's output for one transaction.
type Heuristic struct {
	Score          int            `json:"score"`
	Flags          []string       `json:"flags"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     int            `json:"confidence"`
	Dispersion     float64        `json:"dispersion"` // population std dev of the factors
}

// Scorer combines factors into a heuristic score and recommendation.
type Scorer struct {
	calc *Calculator
}

// NewScorer creates a scorer that shares the calculator's configured sets.
func NewScorer(calc *Calculator) *Scorer {
	return &Scorer{calc: calc}
}

// Score evaluates the factors of tx. Non-finite factors are treated as 0.
func (s *Scorer) Score(ctx context.Context, tx transaction.Transaction, f Factors) Heuristic {
	f = s.sanitize(ctx, f)
	flags := s.flags(tx, f)

	base := f.Velocity*WeightVelocity +
		f.Amount*WeightAmount +
		f.Location*WeightLocation +
		f.Device*WeightDevice +
		f.Time*WeightTime +
		f.Merchant*WeightMerchant

	score := clampInt(roundHalfUp(base+float64(len(flags)*FlagBonus)), 0, 100)
	dispersion := StdDev(f.Values())

	return Heuristic{
		Score:          score,
		Flags:          flags,
		Recommendation: Recommend(score, len(flags)),
		Confidence:     Confidence(dispersion, len(flags)),
		Dispersion:     dispersion,
	}
}

// flags fire independently of the weighted sum, in a fixed order.
func (s *Scorer) flags(tx transaction.Transaction, f Factors) []string {
	var flags []string
	if tx.Amount.GreaterThan(s.calc.cfg.HighAmountFlag) {
		flags = append(flags, FlagHighAmount)
	}
	if s.calc.IsHighRiskCountry(tx.Location.Country) {
		flags = append(flags, FlagHighRiskGeo)
	}
	if s.calc.IsHighRiskMerchant(tx.Merchant.Category) {
		flags = append(flags, FlagHighRiskMerch)
	}
	if f.Time > UnusualTimeThreshold {
		flags = append(flags, FlagUnusualTime)
	}
	if f.Velocity > VelocityThreshold {
		flags = append(flags, FlagHighVelocity)
	}
	if f.Device > DeviceThreshold {
		flags = append(flags, FlagNewDevice)
	}
	return flags
}

func (s *Scorer) sanitize(ctx context.Context, f Factors) Factors {
	for name, v := range map[string]float64{
		"velocity": f.Velocity, "amount": f.Amount, "location": f.Location,
		"device": f.Device, "time": f.Time, "merchant": f.Merchant,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logging.L(ctx).Warn("non-finite risk factor, treating as 0", "factor", name)
		}
	}
	return f.Clamped()
}

// Recommend maps a score and flag count to a recommendation.
func Recommend(score, flagCount int) Recommendation {
	switch {
	case score >= DeclineScore || flagCount >= DeclineFlagCount:
		return Decline
	case score >= ReviewScore || flagCount >= ReviewFlagCount:
		return Review
	default:
		return Approve
	}
}

// Confidence is 100 - dispersion plus a bonus per trigger, within [0, 100].
// Factors that agree give a more certain signal than factors that disagree.
func Confidence(dispersion float64, triggerCount int) int {
	bonus := math.Min(float64(triggerCount*FlagConfidenceStep), MaxFlagConfidence)
	return clampInt(roundHalfUp(100-dispersion+bonus), 0, 100)
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
