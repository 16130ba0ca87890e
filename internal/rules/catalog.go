package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/mbd888/txrisk/internal/idgen"
	"github.com/mbd888/txrisk/internal/metrics"
)

// CompiledRule is an active rule prepared for evaluation. Err is set when the
// rule cannot be evaluated (bad window, unknown category, bad condition).
type CompiledRule struct {
	Rule    BusinessRule
	Window  time.Duration
	Err     error
	Reason  string // metrics label for Err
	program *vm.Program
}

// Snapshot is an immutable view of the catalog: active rules in evaluation
// order plus the global settings in force when it was published.
type Snapshot struct {
	Version  uint64
	Rules    []CompiledRule
	Settings GlobalSettings
}

// EmptySnapshot returns a snapshot with no rules and the given settings.
func EmptySnapshot(settings GlobalSettings) *Snapshot {
	return &Snapshot{Settings: settings.clone()}
}

// Catalog holds business rules and global settings.
// Writers are serialized; readers take lock-free snapshots.
type Catalog struct {
	mu       sync.Mutex
	rules    map[string]*BusinessRule
	settings GlobalSettings
	seq      uint64
	version  uint64
	now      func() time.Time
	logger   *slog.Logger

	current atomic.Pointer[Snapshot]
}

// NewCatalog creates an empty catalog with the given settings.
func NewCatalog(settings GlobalSettings) *Catalog {
	c := &Catalog{
		rules:    make(map[string]*BusinessRule),
		settings: settings.clone(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	c.publishLocked()
	return c
}

// WithClock overrides the clock used for rule timestamps.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// WithLogger sets the logger used for compile diagnostics.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
	return c
}

// Add stores a new rule with a fresh ID and timestamps and returns it.
// Input is not validated here; see Validate.
func (c *Catalog) Add(in RuleInput) BusinessRule {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seq++
	r := &BusinessRule{
		ID:               idgen.WithPrefix("rule_"),
		Name:             in.Name,
		Description:      in.Description,
		Condition:        in.Condition,
		Category:         in.Category,
		Action:           in.Action,
		Threshold:        in.Threshold,
		Active:           in.Active,
		Priority:         in.Priority,
		TimeWindow:       in.TimeWindow,
		MerchantCategory: in.MerchantCategory,
		CreatedAt:        now,
		UpdatedAt:        now,
		seq:              c.seq,
	}
	c.rules[r.ID] = r
	c.publishLocked()
	return *r
}

// Update applies a partial update and refreshes UpdatedAt.
// Returns false if id is unknown.
func (c *Catalog) Update(id string, patch RulePatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.rules[id]
	if !ok {
		return false
	}
	updated := *existing
	patch.apply(&updated)
	updated.UpdatedAt = c.now()
	c.rules[id] = &updated
	c.publishLocked()
	return true
}

// Delete removes a rule. Returns false if id is unknown.
func (c *Catalog) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rules[id]; !ok {
		return false
	}
	delete(c.rules, id)
	c.publishLocked()
	return true
}

// Get returns a copy of one rule.
func (c *Catalog) Get(id string) (BusinessRule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rules[id]
	if !ok {
		return BusinessRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return *r, nil
}

// List returns every rule, active or not, in evaluation order.
func (c *Catalog) List() []BusinessRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderedLocked()
}

// Settings returns a copy of the global settings.
func (c *Catalog) Settings() GlobalSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.clone()
}

// SetSettings replaces the global settings.
func (c *Catalog) SetSettings(s GlobalSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s.clone()
	c.publishLocked()
}

// Snapshot returns the current immutable snapshot. Never blocks on writers.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// orderedLocked sorts by priority descending, then insertion order.
func (c *Catalog) orderedLocked() []BusinessRule {
	result := make([]BusinessRule, 0, len(c.rules))
	for _, r := range c.rules {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].seq < result[j].seq
	})
	return result
}

// publishLocked builds and installs a new snapshot. Caller holds c.mu.
func (c *Catalog) publishLocked() {
	c.version++
	snap := &Snapshot{
		Version:  c.version,
		Settings: c.settings.clone(),
	}
	for _, r := range c.orderedLocked() {
		if !r.Active {
			continue
		}
		cr := compileRule(r)
		if cr.Err != nil {
			c.logger.Warn("rule will not trigger",
				"rule_id", r.ID, "rule_name", r.Name, "reason", cr.Reason, "error", cr.Err)
		}
		snap.Rules = append(snap.Rules, cr)
	}
	c.current.Store(snap)
	metrics.ObserveCatalog(snap.Version, len(snap.Rules))
}

// compileRule prepares one rule. Failures are recorded on the result, never
// returned, so one bad rule cannot block publishing the others.
func compileRule(r BusinessRule) CompiledRule {
	cr := CompiledRule{Rule: r}
	if !r.Category.Valid() {
		cr.Err = fmt.Errorf("%w: %q", ErrUnknownCat, r.Category)
		cr.Reason = "category"
		return cr
	}
	if r.TimeWindow != "" || r.Category == CategoryVelocity {
		w, err := ParseWindow(r.TimeWindow)
		if err != nil {
			cr.Err = err
			cr.Reason = "window"
			return cr
		}
		cr.Window = w
	}
	if r.Condition != "" {
		program, err := compileCondition(r.Condition)
		if err != nil {
			cr.Err = fmt.Errorf("%w: %v", ErrCondition, err)
			cr.Reason = "condition"
			return cr
		}
		cr.program = program
	}
	return cr
}
