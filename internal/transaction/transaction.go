// Package transaction defines the immutable transaction record consumed by the
// risk pipeline and the bounded recent-history buffer that feeds it.
//
// A Transaction is created once by a transaction source and never mutated.
// History keeps the most recent transactions newest-first; callers take one
// Snapshot per assessment so every stage of the pipeline reasons about the
// same slice of "what just happened".
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrMissingID       = errors.New("transaction: id is required")
	ErrMissingUser     = errors.New("transaction: user id is required")
	ErrNegativeAmount  = errors.New("transaction: amount must not be negative")
	ErrMissingTime     = errors.New("transaction: timestamp is required")
	ErrMissingCurrency = errors.New("transaction: currency is required")
)

// Merchant identifies who is being paid.
type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Location is where the transaction originated.
type Location struct {
	Country     string     `json:"country"`
	City        string     `json:"city"`
	Coordinates [2]float64 `json:"coordinates"` // lat, lng
}

// Device describes the client that initiated the transaction.
type Device struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

// Transaction is a single card payment observed by the monitor.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	CardID    string          `json:"cardId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Merchant  Merchant        `json:"merchant"`
	Timestamp time.Time       `json:"timestamp"` // carries the transaction's local zone
	Location  Location        `json:"location"`
	Device    Device          `json:"device"`
}

// Validate checks the fields the pipeline depends on.
func (t Transaction) Validate() error {
	switch {
	case t.ID == "":
		return ErrMissingID
	case t.UserID == "":
		return ErrMissingUser
	case t.Amount.IsNegative():
		return fmt.Errorf("%w: %s", ErrNegativeAmount, t.Amount.String())
	case t.Timestamp.IsZero():
		return ErrMissingTime
	case t.Currency == "":
		return ErrMissingCurrency
	}
	return nil
}

// LocalHour returns the hour of day in the transaction's own zone.
func (t Transaction) LocalHour() int {
	return t.Timestamp.Hour()
}

// CountInWindow counts history entries for userID whose timestamp falls in
// (end-window, end]. Entries with the same ID as exclude are skipped so a
// transaction that was already pushed into history never counts itself.
// match, when non-nil, further filters the entries.
func CountInWindow(history []Transaction, userID, exclude string, end time.Time, window time.Duration, match func(Transaction) bool) int {
	start := end.Add(-window)
	count := 0
	for _, h := range history {
		if h.UserID != userID || (exclude != "" && h.ID == exclude) {
			continue
		}
		if !h.Timestamp.After(start) || h.Timestamp.After(end) {
			continue
		}
		if match != nil && !match(h) {
			continue
		}
		count++
	}
	return count
}
