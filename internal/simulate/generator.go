// Package simulate produces a reproducible stream of synthetic card
// transactions and feeds them through the risk pipeline.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/txrisk/internal/transaction"
)

type place struct {
	country     string
	city        string
	coordinates [2]float64
	utcOffset   int // hours
}

type amountRange struct{ min, max float64 }

var merchants = []transaction.Merchant{
	{ID: "merchant_001", Name: "Amazon", Category: "E-commerce"},
	{ID: "merchant_002", Name: "Starbucks", Category: "Food & Beverage"},
	{ID: "merchant_003", Name: "Shell Gas Station", Category: "Gas Station"},
	{ID: "merchant_004", Name: "Best Buy", Category: "Electronics"},
	{ID: "merchant_005", Name: "Walmart", Category: "Retail"},
	{ID: "merchant_006", Name: "Netflix", Category: "Entertainment"},
	{ID: "merchant_007", Name: "Uber", Category: "Transportation"},
	{ID: "merchant_008", Name: "Casino Royal", Category: "Gambling"},
	{ID: "merchant_009", Name: "Money Transfer Co", Category: "Financial"},
	{ID: "merchant_010", Name: "Crypto Exchange", Category: "Cryptocurrency"},
}

var places = []place{
	{"United States", "New York", [2]float64{40.7128, -74.0060}, -5},
	{"United States", "Los Angeles", [2]float64{34.0522, -118.2437}, -8},
	{"United Kingdom", "London", [2]float64{51.5074, -0.1278}, 0},
	{"Canada", "Toronto", [2]float64{43.6532, -79.3832}, -5},
	{"Germany", "Berlin", [2]float64{52.5200, 13.4050}, 1},
	{"Japan", "Tokyo", [2]float64{35.6762, 139.6503}, 9},
	{"Nigeria", "Lagos", [2]float64{6.5244, 3.3792}, 1},
	{"Russia", "Moscow", [2]float64{55.7558, 37.6173}, 3},
}

var amountRanges = map[string]amountRange{
	"E-commerce":      {20, 500},
	"Food & Beverage": {5, 150},
	"Gas Station":     {25, 100},
	"Electronics":     {100, 2000},
	"Retail":          {15, 300},
	"Entertainment":   {10, 50},
	"Transportation":  {8, 75},
	"Gambling":        {50, 5000},
	"Financial":       {100, 10000},
	"Cryptocurrency":  {500, 50000},
}

var defaultRange = amountRange{10, 100}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/14.1.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) Mobile/15E148",
	"Mozilla/5.0 (Android 11; Mobile; rv:68.0) Gecko/68.0 Firefox/88.0",
}

const userCount = 10

// Options tunes the generator.
type Options struct {
	Seed           uint64
	Start          time.Time     // timestamp of the first transaction
	MinGap, MaxGap time.Duration // spacing between consecutive transactions
	SuspiciousRate float64       // share of transactions replaced by a 10k-60k amount
	NewDeviceRate  float64       // share of transactions from a device the user never used
}

// DefaultOptions mirrors the reference dashboard feed: one transaction every
// one to four seconds and a 10% share of suspiciously large amounts.
func DefaultOptions(seed uint64) Options {
	return Options{
		Seed:           seed,
		Start:          time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		MinGap:         time.Second,
		MaxGap:         4 * time.Second,
		SuspiciousRate: 0.10,
		NewDeviceRate:  0.05,
	}
}

// Generator is a deterministic transaction source. Not safe for concurrent use.
type Generator struct {
	opts Options
	rng  *rand.Rand
	now  time.Time
	seq  int
}

// NewGenerator creates a generator. The same options always yield the same
// sequence of transactions.
func NewGenerator(opts Options) *Generator {
	if opts.MaxGap < opts.MinGap {
		opts.MaxGap = opts.MinGap
	}
	return &Generator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		now:  opts.Start,
	}
}

// Next returns the next transaction.
func (g *Generator) Next() transaction.Transaction {
	g.seq++
	g.advance()

	m := merchants[g.rng.IntN(len(merchants))]
	p := places[g.rng.IntN(len(places))]
	user := fmt.Sprintf("user_%03d", g.rng.IntN(userCount)+1)

	amount := g.amountFor(m.Category)
	if g.rng.Float64() < g.opts.SuspiciousRate {
		amount = g.rng.Float64()*50000 + 10000
	}

	zone := time.FixedZone(p.city, p.utcOffset*3600)
	return transaction.Transaction{
		ID:        fmt.Sprintf("tx_%d_%06d", g.now.UnixMilli(), g.seq),
		UserID:    user,
		CardID:    fmt.Sprintf("card_%s_%d", user, g.rng.IntN(3)+1),
		Amount:    decimal.NewFromFloat(amount).Round(2),
		Currency:  "USD",
		Merchant:  m,
		Timestamp: g.now.In(zone),
		Location: transaction.Location{
			Country:     p.country,
			City:        p.city,
			Coordinates: p.coordinates,
		},
		Device: transaction.Device{
			ID:        g.deviceFor(user),
			IP:        g.ip(),
			UserAgent: userAgents[g.rng.IntN(len(userAgents))],
		},
	}
}

// Batch returns the next n transactions.
func (g *Generator) Batch(n int) []transaction.Transaction {
	out := make([]transaction.Transaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

func (g *Generator) advance() {
	if g.seq == 1 {
		return
	}
	gap := g.opts.MinGap
	if span := g.opts.MaxGap - g.opts.MinGap; span > 0 {
		gap += time.Duration(g.rng.Int64N(int64(span)))
	}
	g.now = g.now.Add(gap)
}

func (g *Generator) amountFor(category string) float64 {
	r, ok := amountRanges[category]
	if !ok {
		r = defaultRange
	}
	return g.rng.Float64()*(r.max-r.min) + r.min
}

// deviceFor picks one of the user's two usual devices, or occasionally a
// device the user has never used.
func (g *Generator) deviceFor(user string) string {
	if g.rng.Float64() < g.opts.NewDeviceRate {
		return fmt.Sprintf("device_%012x", g.rng.Uint64()&0xffffffffffff)
	}
	return fmt.Sprintf("device_%s_%d", user, g.rng.IntN(2)+1)
}

func (g *Generator) ip() string {
	return fmt.Sprintf("%d.%d.%d.%d", g.rng.IntN(256), g.rng.IntN(256), g.rng.IntN(256), g.rng.IntN(256))
}
