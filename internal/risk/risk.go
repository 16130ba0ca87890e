// Package risk implements heuristic transaction risk scoring.
//
// Every transaction is broken into 6 factors, each in [0, 100]: velocity,
// amount, location, device, time of day, and merchant category. The Scorer
// combines them into a weighted score, adds a fixed bonus per diagnostic
// flag, and maps the result to a recommendation with a confidence value.
// Sets, tiers and points are Config so they can be tuned without a rebuild.
package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Recommendation is the heuristic verdict on a transaction.
type Recommendation string

const (
	Approve Recommendation = "APPROVE"
	Review  Recommendation = "REVIEW"
	Decline Recommendation = "DECLINE"
)

// Severity orders recommendations so stages can only escalate.
func (r Recommendation) Severity() int {
	switch r {
	case Decline:
		return 2
	case Review:
		return 1
	default:
		return 0
	}
}

// Diagnostic flag names.
const (
	FlagHighAmount    = "High Amount Transaction"
	FlagHighRiskGeo   = "High Risk Country"
	FlagHighRiskMerch = "High Risk Merchant"
	FlagUnusualTime   = "Unusual Time"
	FlagHighVelocity  = "High Velocity"
	FlagNewDevice     = "New Device"
)

// Factors are the six per-transaction sub-scores, each in [0, 100].
type Factors struct {
	Velocity float64 `json:"velocityRisk"`
	Amount   float64 `json:"amountRisk"`
	Location float64 `json:"locationRisk"`
	Device   float64 `json:"deviceRisk"`
	Time     float64 `json:"timeRisk"`
	Merchant float64 `json:"merchantRisk"`
}

// Values returns the factors in declaration order.
func (f Factors) Values() []float64 {
	return []float64{f.Velocity, f.Amount, f.Location, f.Device, f.Time, f.Merchant}
}

// Clamped returns a copy with every factor forced into [0, 100].
// NaN becomes 0.
func (f Factors) Clamped() Factors {
	return Factors{
		Velocity: clampFactor(f.Velocity),
		Amount:   clampFactor(f.Amount),
		Location: clampFactor(f.Location),
		Device:   clampFactor(f.Device),
		Time:     clampFactor(f.Time),
		Merchant: clampFactor(f.Merchant),
	}
}

func clampFactor(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// AmountTier assigns Score to amounts strictly greater than Above.
type AmountTier struct {
	Above decimal.Decimal
	Score float64
}

// Factor weights. They sum to 1.
const (
	WeightVelocity = 0.25
	WeightAmount   = 0.20
	WeightLocation = 0.20
	WeightDevice   = 0.15
	WeightTime     = 0.10
	WeightMerchant = 0.10
)

// Scoring thresholds.
const (
	FlagBonus            = 5
	DeclineScore         = 80
	ReviewScore          = 50
	DeclineFlagCount     = 3
	ReviewFlagCount      = 2
	FlagConfidenceStep   = 10
	MaxFlagConfidence    = 30
	UnusualTimeThreshold = 50
	VelocityThreshold    = 60
	DeviceThreshold      = 60
)

// Config holds the tunable inputs of the factor calculator.
type Config struct {
	HomeCountry                string
	HighRiskCountries          []string
	HighRiskMerchantCategories []string
	ElevatedMerchantCategory   string

	AmountTiers     []AmountTier
	AmountBaseScore float64
	HighAmountFlag  decimal.Decimal

	VelocityWindow      time.Duration
	VelocityPointsPerTx float64

	NightEndHour  int // hours 0..NightEndHour are unusual
	LateStartHour int // hours LateStartHour..23 are unusual

	HighRiskCountryScore  float64
	ForeignCountryScore   float64
	HomeCountryScore      float64
	HighRiskMerchantScore float64
	ElevatedMerchantScore float64
	MerchantBaseScore     float64
	UnusualTimeScore      float64
	NormalTimeScore       float64
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		HomeCountry:                "United States",
		HighRiskCountries:          []string{"Nigeria", "Russia", "China", "Iran"},
		HighRiskMerchantCategories: []string{"Gambling", "Cryptocurrency", "Financial"},
		ElevatedMerchantCategory:   "Financial",

		AmountTiers: []AmountTier{
			{Above: decimal.NewFromInt(5000), Score: 80},
			{Above: decimal.NewFromInt(1000), Score: 40},
			{Above: decimal.NewFromInt(500), Score: 20},
		},
		AmountBaseScore: 10,
		HighAmountFlag:  decimal.NewFromInt(5000),

		VelocityWindow:      time.Hour,
		VelocityPointsPerTx: 20,

		NightEndHour:  6,
		LateStartHour: 23,

		HighRiskCountryScore:  90,
		ForeignCountryScore:   30,
		HomeCountryScore:      10,
		HighRiskMerchantScore: 75,
		ElevatedMerchantScore: 50,
		MerchantBaseScore:     20,
		UnusualTimeScore:      60,
		NormalTimeScore:       15,
	}
}

// IsUnusualHour reports whether hour falls in the night or late window.
func (c Config) IsUnusualHour(hour int) bool {
	return (hour >= 0 && hour <= c.NightEndHour) || hour >= c.LateStartHour
}

// sortedTiers returns the tiers highest threshold first.
func (c Config) sortedTiers() []AmountTier {
	tiers := make([]AmountTier, len(c.AmountTiers))
	copy(tiers, c.AmountTiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].Above.GreaterThan(tiers[j].Above)
	})
	return tiers
}

// stringSet is a case-insensitive membership set.
type stringSet map[string]struct{}

func newStringSet(values []string) stringSet {
	s := make(stringSet, len(values))
	for _, v := range values {
		s[normalize(v)] = struct{}{}
	}
	return s
}

func (s stringSet) has(v string) bool {
	_, ok := s[normalize(v)]
	return ok
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
