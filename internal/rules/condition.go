package rules

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/transaction"
)

// ConditionEnv is what a rule condition can reference, e.g.
//
//	amount > 2500 && country != "United States"
//	merchant_category in ["Gambling", "Cryptocurrency"] && hour >= 22
type ConditionEnv struct {
	Amount           float64 `expr:"amount"`
	Currency         string  `expr:"currency"`
	UserID           string  `expr:"user_id"`
	CardID           string  `expr:"card_id"`
	Country          string  `expr:"country"`
	City             string  `expr:"city"`
	Merchant         string  `expr:"merchant"`
	MerchantCategory string  `expr:"merchant_category"`
	DeviceID         string  `expr:"device_id"`
	Hour             int     `expr:"hour"`
	Weekday          string  `expr:"weekday"`
	RecentCount      int     `expr:"recent_count"` // same-user transactions in the history snapshot

	VelocityRisk float64 `expr:"velocity_risk"`
	AmountRisk   float64 `expr:"amount_risk"`
	LocationRisk float64 `expr:"location_risk"`
	DeviceRisk   float64 `expr:"device_risk"`
	TimeRisk     float64 `expr:"time_risk"`
	MerchantRisk float64 `expr:"merchant_risk"`
}

func newConditionEnv(tx transaction.Transaction, f risk.Factors, history []transaction.Transaction) ConditionEnv {
	recent := 0
	for _, h := range history {
		if h.UserID == tx.UserID && h.ID != tx.ID {
			recent++
		}
	}
	amount, _ := tx.Amount.Float64()
	return ConditionEnv{
		Amount:           amount,
		Currency:         tx.Currency,
		UserID:           tx.UserID,
		CardID:           tx.CardID,
		Country:          tx.Location.Country,
		City:             tx.Location.City,
		Merchant:         tx.Merchant.Name,
		MerchantCategory: tx.Merchant.Category,
		DeviceID:         tx.Device.ID,
		Hour:             tx.LocalHour(),
		Weekday:          strings.ToLower(tx.Timestamp.Weekday().String()),
		RecentCount:      recent,
		VelocityRisk:     f.Velocity,
		AmountRisk:       f.Amount,
		LocationRisk:     f.Location,
		DeviceRisk:       f.Device,
		TimeRisk:         f.Time,
		MerchantRisk:     f.Merchant,
	}
}

func compileCondition(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(ConditionEnv{}), expr.AsBool())
}

func runCondition(program *vm.Program, env ConditionEnv) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCondition, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: result is %T, not bool", ErrCondition, out)
	}
	return ok, nil
}
