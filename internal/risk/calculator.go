package risk

import (
	"context"
	"log/slog"
	"math"

	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/metrics"
	"github.com/mbd888/txrisk/internal/transaction"
)

// Calculator turns a transaction and its history snapshot into Factors.
// It holds no mutable state and never fetches history itself.
type Calculator struct {
	cfg               Config
	tiers             []AmountTier
	highRiskCountries stringSet
	highRiskMerchants stringSet
	homeCountry       string
	elevatedMerchant  string
	device            DeviceSignal
}

// NewCalculator creates a factor calculator. A nil device signal falls back
// to NoDeviceSignal.
func NewCalculator(cfg Config, device DeviceSignal) *Calculator {
	if device == nil {
		device = NoDeviceSignal{}
	}
	return &Calculator{
		cfg:               cfg,
		tiers:             cfg.sortedTiers(),
		highRiskCountries: newStringSet(cfg.HighRiskCountries),
		highRiskMerchants: newStringSet(cfg.HighRiskMerchantCategories),
		homeCountry:       normalize(cfg.HomeCountry),
		elevatedMerchant:  normalize(cfg.ElevatedMerchantCategory),
		device:            device,
	}
}

// Config returns the calculator's tuning.
func (c *Calculator) Config() Config {
	return c.cfg
}

// IsHighRiskCountry reports whether country is in the high-risk set.
func (c *Calculator) IsHighRiskCountry(country string) bool {
	return c.highRiskCountries.has(country)
}

// IsHighRiskMerchant reports whether category is in the high-risk set.
func (c *Calculator) IsHighRiskMerchant(category string) bool {
	return c.highRiskMerchants.has(category)
}

// Factors computes all six factors, clamped to [0, 100].
func (c *Calculator) Factors(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) Factors {
	f := Factors{
		Velocity: c.velocity(tx, history),
		Amount:   c.amount(tx),
		Location: c.location(tx),
		Device:   c.deviceRisk(ctx, tx, history),
		Time:     c.timeOfDay(tx),
		Merchant: c.merchant(tx),
	}
	return f.Clamped()
}

// velocity: same-user transactions in the trailing window, points per tx.
func (c *Calculator) velocity(tx transaction.Transaction, history []transaction.Transaction) float64 {
	n := transaction.CountInWindow(history, tx.UserID, tx.ID, tx.Timestamp, c.cfg.VelocityWindow, nil)
	return math.Min(float64(n)*c.cfg.VelocityPointsPerTx, 100)
}

// amount: first tier (highest threshold first) the amount strictly exceeds.
func (c *Calculator) amount(tx transaction.Transaction) float64 {
	for _, tier := range c.tiers {
		if tx.Amount.GreaterThan(tier.Above) {
			return tier.Score
		}
	}
	return c.cfg.AmountBaseScore
}

func (c *Calculator) location(tx transaction.Transaction) float64 {
	switch {
	case c.highRiskCountries.has(tx.Location.Country):
		return c.cfg.HighRiskCountryScore
	case normalize(tx.Location.Country) != c.homeCountry:
		return c.cfg.ForeignCountryScore
	default:
		return c.cfg.HomeCountryScore
	}
}

func (c *Calculator) timeOfDay(tx transaction.Transaction) float64 {
	if c.cfg.IsUnusualHour(tx.LocalHour()) {
		return c.cfg.UnusualTimeScore
	}
	return c.cfg.NormalTimeScore
}

// merchant: high-risk set wins over the elevated category.
func (c *Calculator) merchant(tx transaction.Transaction) float64 {
	switch {
	case c.highRiskMerchants.has(tx.Merchant.Category):
		return c.cfg.HighRiskMerchantScore
	case c.elevatedMerchant != "" && normalize(tx.Merchant.Category) == c.elevatedMerchant:
		return c.cfg.ElevatedMerchantScore
	default:
		return c.cfg.MerchantBaseScore
	}
}

func (c *Calculator) deviceRisk(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) float64 {
	v, err := c.device.DeviceRisk(ctx, tx, history)
	if err != nil {
		metrics.DeviceSignalErrorsTotal.Inc()
		logging.L(ctx).Warn("device signal failed, using 0", "error", err)
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		metrics.DeviceSignalErrorsTotal.Inc()
		logging.L(ctx).Warn("device signal returned non-finite value, using 0", slog.Float64("value", v))
		return 0
	}
	return v
}
