package main

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mbd888/txrisk/internal/config"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/rules"
	"github.com/mbd888/txrisk/internal/transaction"
)

func TestNewEvaluator_SharesNightWindowWithCalculator(t *testing.T) {
	tx := transaction.Transaction{
		ID:        "txn_night",
		UserID:    "user_001",
		Amount:    decimal.NewFromInt(40),
		Currency:  "USD",
		Merchant:  transaction.Merchant{ID: "merchant_001", Category: "Grocery"},
		Timestamp: time.Date(2025, 3, 14, 4, 0, 0, 0, time.UTC),
		Location:  transaction.Location{Country: config.DefaultHomeCountry},
		Device:    transaction.Device{ID: "dev_1"},
	}
	catalog := rules.NewCatalog(rules.GlobalSettings{})
	catalog.Add(rules.RuleInput{Name: "night", Category: rules.CategoryTime, Action: rules.ActionFlag, Threshold: 101, Active: true})

	tests := []struct {
		name         string
		nightEndHour int
		unusual      bool
	}{
		{"04:00 inside the night window", 6, true},
		{"04:00 after a shortened night window", 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{HomeCountry: config.DefaultHomeCountry, NightEndHour: tt.nightEndHour}
			calc := risk.NewCalculator(cfg.RiskConfig(), risk.NoDeviceSignal{})

			assert.Equal(t, tt.unusual, calc.Config().IsUnusualHour(tx.LocalHour()))

			f := calc.Factors(context.Background(), tx, nil)
			v := newEvaluator(cfg, calc).Evaluate(context.Background(), tx, f, nil, catalog.Snapshot())
			if tt.unusual {
				assert.Equal(t, []string{"night"}, v.Triggered)
			} else {
				assert.Empty(t, v.Triggered)
			}
		})
	}
}
