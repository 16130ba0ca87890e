package rules

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txrisk/internal/validation"
)

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	var mu sync.Mutex
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

func amountRule(name string, threshold float64, priority int) RuleInput {
	return RuleInput{
		Name:      name,
		Category:  CategoryAmount,
		Action:    ActionFlag,
		Threshold: threshold,
		Active:    true,
		Priority:  priority,
	}
}

func ptr[T any](v T) *T { return &v }

// ===========================================================================
// CRUD
// ===========================================================================

func TestCatalog_Add(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	clock, _ := fixedClock(start)
	c := NewCatalog(DefaultGlobalSettings()).WithClock(clock)

	r := c.Add(amountRule("Big", 1000, 1))

	assert.True(t, strings.HasPrefix(r.ID, "rule_"))
	assert.Equal(t, "Big", r.Name)
	assert.Equal(t, start, r.CreatedAt)
	assert.Equal(t, start, r.UpdatedAt)

	got, err := c.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestCatalog_AddAssignsDistinctIDs(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	a := c.Add(amountRule("A", 1, 1))
	b := c.Add(amountRule("A", 1, 1))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCatalog_Update(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	clock, advance := fixedClock(start)
	c := NewCatalog(DefaultGlobalSettings()).WithClock(clock)
	r := c.Add(amountRule("Big", 1000, 1))

	advance(time.Minute)
	ok := c.Update(r.ID, RulePatch{Threshold: ptr(2500.0), Active: ptr(false)})
	require.True(t, ok)

	got, err := c.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, got.Threshold)
	assert.False(t, got.Active)
	assert.Equal(t, "Big", got.Name, "untouched fields are kept")
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, start.Add(time.Minute), got.UpdatedAt)
}

func TestCatalog_UpdateAllFields(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	r := c.Add(amountRule("Big", 1000, 1))

	require.True(t, c.Update(r.ID, RulePatch{
		Name:             ptr("Renamed"),
		Description:      ptr("desc"),
		Condition:        ptr("amount > 1"),
		Category:         ptr(CategoryVelocity),
		Action:           ptr(ActionBlock),
		Threshold:        ptr(4.0),
		Active:           ptr(true),
		Priority:         ptr(9),
		TimeWindow:       ptr("5m"),
		MerchantCategory: ptr("Gambling"),
	}))

	got, err := c.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "desc", got.Description)
	assert.Equal(t, "amount > 1", got.Condition)
	assert.Equal(t, CategoryVelocity, got.Category)
	assert.Equal(t, ActionBlock, got.Action)
	assert.Equal(t, 4.0, got.Threshold)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, "5m", got.TimeWindow)
	assert.Equal(t, "Gambling", got.MerchantCategory)
}

func TestCatalog_UpdateUnknown(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	before := c.Snapshot().Version

	assert.False(t, c.Update("rule_missing", RulePatch{Name: ptr("x")}))
	assert.Equal(t, before, c.Snapshot().Version, "failed update publishes nothing")
}

func TestCatalog_Delete(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	r := c.Add(amountRule("Big", 1000, 1))

	assert.True(t, c.Delete(r.ID))
	assert.False(t, c.Delete(r.ID))

	_, err := c.Get(r.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.Empty(t, c.List())
}

func TestCatalog_ListOrder(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	c.Add(amountRule("low", 1, 1))
	c.Add(amountRule("high-first", 1, 10))
	inactive := amountRule("inactive", 1, 5)
	inactive.Active = false
	c.Add(inactive)
	c.Add(amountRule("high-second", 1, 10))

	var names []string
	for _, r := range c.List() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"high-first", "high-second", "inactive", "low"}, names)
}

// ===========================================================================
// Snapshots
// ===========================================================================

func TestSnapshot_OnlyActiveRulesInOrder(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	c.Add(amountRule("low", 1, 1))
	off := c.Add(amountRule("off", 1, 50))
	c.Add(amountRule("high", 1, 10))
	require.True(t, c.Update(off.ID, RulePatch{Active: ptr(false)}))

	snap := c.Snapshot()
	require.Len(t, snap.Rules, 2)
	assert.Equal(t, "high", snap.Rules[0].Rule.Name)
	assert.Equal(t, "low", snap.Rules[1].Rule.Name)
}

func TestSnapshot_IsImmutable(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	r := c.Add(amountRule("Big", 1000, 1))

	old := c.Snapshot()
	require.Len(t, old.Rules, 1)

	c.Update(r.ID, RulePatch{Threshold: ptr(1.0)})
	c.Add(amountRule("Other", 1, 1))
	c.SetSettings(GlobalSettings{BlockedCountries: []string{"Nigeria"}})

	assert.Len(t, old.Rules, 1)
	assert.Equal(t, 1000.0, old.Rules[0].Rule.Threshold)
	assert.Empty(t, old.Settings.BlockedCountries)

	latest := c.Snapshot()
	assert.Greater(t, latest.Version, old.Version)
	assert.Len(t, latest.Rules, 2)
	assert.Equal(t, []string{"Nigeria"}, latest.Settings.BlockedCountries)
}

func TestSnapshot_VersionIncrementsPerMutation(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	v0 := c.Snapshot().Version

	r := c.Add(amountRule("A", 1, 1))
	v1 := c.Snapshot().Version
	c.Update(r.ID, RulePatch{Priority: ptr(2)})
	v2 := c.Snapshot().Version
	c.Delete(r.ID)
	v3 := c.Snapshot().Version

	assert.Equal(t, []uint64{v0 + 1, v0 + 2, v0 + 3}, []uint64{v1, v2, v3})
}

func TestSettings_AreCopied(t *testing.T) {
	s := GlobalSettings{
		MaxTransactionAmount: decimal.NewFromInt(100),
		BlockedCountries:     []string{"Nigeria"},
	}
	c := NewCatalog(s)
	s.BlockedCountries[0] = "Mutated"

	got := c.Settings()
	assert.Equal(t, []string{"Nigeria"}, got.BlockedCountries)

	got.BlockedCountries[0] = "Mutated"
	assert.Equal(t, []string{"Nigeria"}, c.Settings().BlockedCountries)
}

func TestCompileRule_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		rule   BusinessRule
		reason string
		err    error
	}{
		{"velocity without window", BusinessRule{Category: CategoryVelocity, Action: ActionFlag}, "window", ErrInvalidWindow},
		{"bad window unit", BusinessRule{Category: CategoryVelocity, TimeWindow: "5s"}, "window", ErrInvalidWindow},
		{"bad window on amount", BusinessRule{Category: CategoryAmount, TimeWindow: "soon"}, "window", ErrInvalidWindow},
		{"unknown category", BusinessRule{Category: "GEOFENCE"}, "category", ErrUnknownCat},
		{"bad condition", BusinessRule{Category: CategoryAmount, Condition: "amount >"}, "condition", ErrCondition},
		{"non-bool condition", BusinessRule{Category: CategoryAmount, Condition: "amount + 1"}, "condition", ErrCondition},
		{"unknown variable", BusinessRule{Category: CategoryAmount, Condition: "balance > 1"}, "condition", ErrCondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := compileRule(tt.rule)
			require.Error(t, cr.Err)
			assert.ErrorIs(t, cr.Err, tt.err)
			assert.Equal(t, tt.reason, cr.Reason)
		})
	}
}

func TestCompileRule_Valid(t *testing.T) {
	cr := compileRule(BusinessRule{Category: CategoryVelocity, TimeWindow: "24h", Condition: `country == "Canada"`})
	require.NoError(t, cr.Err)
	assert.Equal(t, 24*time.Hour, cr.Window)
	assert.NotNil(t, cr.program)
}

func TestCatalog_AcceptsMalformedRules(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	c.Add(RuleInput{Name: "broken", Category: CategoryVelocity, Action: ActionFlag, TimeWindow: "forever", Active: true})

	snap := c.Snapshot()
	require.Len(t, snap.Rules, 1)
	assert.ErrorIs(t, snap.Rules[0].Err, ErrInvalidWindow)
}

func TestCatalog_ConcurrentReadersAndWriters(t *testing.T) {
	c := NewCatalog(DefaultGlobalSettings())
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = c.Add(amountRule(fmt.Sprintf("r%d", i), float64(i), i)).ID
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := ids[(w+i)%len(ids)]
				c.Update(id, RulePatch{Active: ptr(i%2 == 0)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := c.Snapshot()
				for j, cr := range snap.Rules {
					if !cr.Rule.Active {
						t.Errorf("inactive rule %s in snapshot %d", cr.Rule.ID, snap.Version)
					}
					if j > 0 && snap.Rules[j-1].Rule.Priority < cr.Rule.Priority {
						t.Errorf("snapshot %d out of order", snap.Version)
					}
				}
			}
		}()
	}
	wg.Wait()
}

// ===========================================================================
// ParseWindow / Validate
// ===========================================================================

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"0m", 0, true},
		{"5", 0, true},
		{"m", 0, true},
		{"5s", 0, true},
		{"-5m", 0, true},
		{"1.5h", 0, true},
		{" 5m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindow(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWindow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := RuleInput{
		Name:       "Burst",
		Category:   CategoryVelocity,
		Action:     ActionFlag,
		Threshold:  3,
		TimeWindow: "5m",
		Active:     true,
		Priority:   10,
	}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*RuleInput)
		field  string
	}{
		{"missing name", func(in *RuleInput) { in.Name = "" }, "Name"},
		{"bad category", func(in *RuleInput) { in.Category = "GEO" }, "Category"},
		{"bad action", func(in *RuleInput) { in.Action = "ALERT" }, "Action"},
		{"negative threshold", func(in *RuleInput) { in.Threshold = -1 }, "Threshold"},
		{"negative priority", func(in *RuleInput) { in.Priority = -1 }, "Priority"},
		{"velocity without window", func(in *RuleInput) { in.TimeWindow = "" }, "TimeWindow"},
		{"bad window", func(in *RuleInput) { in.TimeWindow = "5 minutes" }, "TimeWindow"},
		{"zero window", func(in *RuleInput) { in.TimeWindow = "0h" }, "TimeWindow"},
		{"bad condition", func(in *RuleInput) { in.Condition = "amount >>> 3" }, "Condition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := Validate(in)
			require.Error(t, err)
			var verrs validation.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_AmountRuleNeedsNoWindow(t *testing.T) {
	assert.NoError(t, Validate(amountRule("Big", 5000, 1)))
}

func TestSanitize(t *testing.T) {
	in := Sanitize(RuleInput{Name: "  Big\x00 ", TimeWindow: " 5m "})
	assert.Equal(t, "Big", in.Name)
	assert.Equal(t, "5m", in.TimeWindow)
}

func TestDefaultRules_AreValid(t *testing.T) {
	for _, in := range DefaultRules() {
		assert.NoError(t, Validate(in), in.Name)
	}
	c := NewCatalog(DefaultGlobalSettings())
	stored := Seed(c, DefaultRules())
	assert.Len(t, stored, len(DefaultRules()))
	for _, cr := range c.Snapshot().Rules {
		assert.NoError(t, cr.Err, cr.Rule.Name)
	}
}

func TestActionSeverity(t *testing.T) {
	assert.Equal(t, SeverityBlock, ActionBlock.Severity())
	assert.Equal(t, SeverityFlag, ActionFlag.Severity())
	assert.Equal(t, SeverityFlag, ActionLimit.Severity())
	assert.Equal(t, SeverityFlag, Action("ESCALATE").Severity())
	assert.False(t, Action("ESCALATE").Known())
	assert.Equal(t, "BLOCK", SeverityBlock.String())
	assert.Equal(t, "NONE", SeverityNone.String())
}
