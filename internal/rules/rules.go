// Package rules provides the operator-configurable business rule catalog and
// the evaluator that applies it to a transaction.
//
// Rules are predicate/action pairs keyed by category. The Catalog is the
// only mutable state: writers publish an immutable, versioned Snapshot and
// every evaluation reads exactly one snapshot, so an evaluation never sees a
// half-applied change. Global settings are checked on every evaluation as
// implicit BLOCK rules.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrRuleNotFound  = errors.New("rules: not found")
	ErrInvalidWindow = errors.New("rules: invalid time window")
	ErrUnknownCat    = errors.New("rules: unknown category")
	ErrCondition     = errors.New("rules: condition failed")
)

// Category selects the predicate a rule is evaluated with.
type Category string

const (
	CategoryVelocity Category = "VELOCITY"
	CategoryAmount   Category = "AMOUNT"
	CategoryLocation Category = "LOCATION"
	CategoryMerchant Category = "MERCHANT"
	CategoryTime     Category = "TIME"
	CategoryDevice   Category = "DEVICE"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryVelocity, CategoryAmount, CategoryLocation,
	CategoryMerchant, CategoryTime, CategoryDevice,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is what a triggered rule asks for.
type Action string

const (
	ActionBlock Action = "BLOCK"
	ActionFlag  Action = "FLAG"
	ActionLimit Action = "LIMIT"
)

// Severity is the rule-stage lattice: None < Flag (= Limit) < Block.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityFlag
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityBlock:
		return "BLOCK"
	case SeverityFlag:
		return "FLAG"
	default:
		return "NONE"
	}
}

// Severity maps an action onto the lattice. LIMIT ranks with FLAG; an
// unknown action also counts as FLAG rather than being ignored.
func (a Action) Severity() Severity {
	if a == ActionBlock {
		return SeverityBlock
	}
	return SeverityFlag
}

// Known reports whether a is one of the defined actions.
func (a Action) Known() bool {
	return a == ActionBlock || a == ActionFlag || a == ActionLimit
}

// BusinessRule is one catalog entry.
type BusinessRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Condition   string   `json:"condition,omitempty"` // optional boolean expression gate
	Category    Category `json:"category"`
	Action      Action   `json:"action"`
	Threshold   float64  `json:"threshold"`
	Active      bool     `json:"isActive"`
	Priority    int      `json:"priority"` // higher = evaluated first
	TimeWindow  string   `json:"timeWindow,omitempty"`
	// MerchantCategory scopes VELOCITY counting to one merchant category.
	MerchantCategory string    `json:"merchantCategory,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	seq uint64 // insertion order, tie-break for equal priority
}

// DisplayName is the name reported when the rule triggers.
func (r BusinessRule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// RuleInput is a rule without identity or timestamps, as accepted by Add.
type RuleInput struct {
	Name             string   `json:"name" validate:"required,max=200"`
	Description      string   `json:"description" validate:"max=2000"`
	Condition        string   `json:"condition,omitempty" validate:"max=2000"`
	Category         Category `json:"category" validate:"required,oneof=VELOCITY AMOUNT LOCATION MERCHANT TIME DEVICE"`
	Action           Action   `json:"action" validate:"required,oneof=BLOCK FLAG LIMIT"`
	Threshold        float64  `json:"threshold" validate:"gte=0"`
	Active           bool     `json:"isActive"`
	Priority         int      `json:"priority" validate:"gte=0"`
	TimeWindow       string   `json:"timeWindow,omitempty" validate:"required_if=Category VELOCITY,timewindow"`
	MerchantCategory string   `json:"merchantCategory,omitempty" validate:"max=200"`
}

// RulePatch carries a partial update. Nil fields are left unchanged.
type RulePatch struct {
	Name             *string   `json:"name,omitempty"`
	Description      *string   `json:"description,omitempty"`
	Condition        *string   `json:"condition,omitempty"`
	Category         *Category `json:"category,omitempty"`
	Action           *Action   `json:"action,omitempty"`
	Threshold        *float64  `json:"threshold,omitempty"`
	Active           *bool     `json:"isActive,omitempty"`
	Priority         *int      `json:"priority,omitempty"`
	TimeWindow       *string   `json:"timeWindow,omitempty"`
	MerchantCategory *string   `json:"merchantCategory,omitempty"`
}

func (p RulePatch) apply(r *BusinessRule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Condition != nil {
		r.Condition = *p.Condition
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Action != nil {
		r.Action = *p.Action
	}
	if p.Threshold != nil {
		r.Threshold = *p.Threshold
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.TimeWindow != nil {
		r.TimeWindow = *p.TimeWindow
	}
	if p.MerchantCategory != nil {
		r.MerchantCategory = *p.MerchantCategory
	}
}

// GlobalSettings are checked on every evaluation as implicit BLOCK rules.
type GlobalSettings struct {
	// MaxTransactionAmount blocks larger amounts. Zero disables the check.
	MaxTransactionAmount decimal.Decimal `json:"maxTransactionAmount"`
	// MaxDailyTransactions blocks a user's transaction once it would exceed
	// this many in the trailing 24h of history. Zero disables the check.
	MaxDailyTransactions      int      `json:"maxDailyTransactions"`
	BlockedCountries          []string `json:"blockedCountries"`
	BlockedMerchantCategories []string `json:"blockedMerchantCategories"`
	// TestMode is carried for operators and logged; it does not change decisions.
	TestMode bool `json:"allowTestMode"`
}

// DefaultGlobalSettings returns settings with only the amount ceiling enabled.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		MaxTransactionAmount: decimal.NewFromInt(50000),
	}
}

func (g GlobalSettings) clone() GlobalSettings {
	cp := g
	cp.BlockedCountries = append([]string(nil), g.BlockedCountries...)
	cp.BlockedMerchantCategories = append([]string(nil), g.BlockedMerchantCategories...)
	return cp
}

// Names of the implicit global checks.
const (
	CheckMaxAmount       = "Global Max Amount Exceeded"
	CheckBlockedCountry  = "Blocked Country"
	CheckBlockedMerchant = "Blocked Merchant Category"
	CheckDailyLimit      = "Global Daily Limit Exceeded"
)

var windowPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseWindow parses a time window such as "5m", "1h", "24h" or "7d".
func ParseWindow(s string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	var unit time.Duration
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}
