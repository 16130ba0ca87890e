// Command simulate streams synthetic card transactions through the risk
// pipeline and prints the resulting dashboard metrics.
//
// Usage:
//
//	go run ./cmd/simulate                 # SIM_COUNT transactions, seed SIM_SEED
//	go run ./cmd/simulate -n 1000 -seed 7 # override count and seed
//	go run ./cmd/simulate -batch 32       # parallel chunks of 32, PIPELINE_WORKERS wide
//	go run ./cmd/simulate -json           # print metrics as JSON
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbd888/txrisk/internal/assessment"
	"github.com/mbd888/txrisk/internal/circuitbreaker"
	"github.com/mbd888/txrisk/internal/config"
	"github.com/mbd888/txrisk/internal/logging"
	"github.com/mbd888/txrisk/internal/metrics"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/rules"
	"github.com/mbd888/txrisk/internal/simulate"
	"github.com/mbd888/txrisk/internal/traces"
	"github.com/mbd888/txrisk/internal/transaction"
)

// Build info - set by ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	count := flag.Int("n", cfg.SimCount, "number of transactions to generate")
	seed := flag.Uint64("seed", cfg.SimSeed, "generator seed")
	batch := flag.Int("batch", 0, "assess in parallel chunks of this size (0 = one at a time)")
	asJSON := flag.Bool("json", false, "print final metrics as JSON")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting txrisk simulator",
		"version", Version,
		"commit", Commit,
		"env", cfg.Env,
		"count", *count,
		"seed", *seed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	catalog := rules.NewCatalog(cfg.GlobalSettings()).WithLogger(logger)
	for _, in := range rules.DefaultRules() {
		if err := rules.Validate(in); err != nil {
			logger.Warn("default rule rejected", "rule_name", in.Name, "error", err)
			continue
		}
		catalog.Add(rules.Sanitize(in))
	}
	snap := catalog.Snapshot()
	logger.Info("rule catalog loaded", "catalog_version", snap.Version, "active_rules", len(snap.Rules))

	breaker := circuitbreaker.New(circuitbreaker.DefaultThreshold, circuitbreaker.DefaultCooldown)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("device signal circuit changed", "key", key, "from", from.String(), "to", to.String())
	})
	device := risk.NewBreakerDeviceSignal(risk.NewHistoryDeviceSignal(), breaker, "history")
	calc := risk.NewCalculator(cfg.RiskConfig(), device)
	evaluator := newEvaluator(cfg, calc)
	aggregator := metrics.NewAggregator()
	store := assessment.NewMemoryStore(cfg.StoreCapacity)
	pipeline := assessment.NewPipeline(calc, catalog, evaluator).
		WithStore(store).
		WithAggregator(aggregator).
		WithWorkers(cfg.PipelineWorkers).
		WithLogger(logger)

	gen := simulate.NewGenerator(simulate.DefaultOptions(*seed))
	runner := simulate.NewRunner(gen, pipeline, transaction.NewHistory(cfg.HistoryCapacity)).
		WithLogger(logger)

	sum, runErr := runner.RunBatched(ctx, *count, *batch)
	if runErr != nil {
		logger.Warn("simulation interrupted", "error", runErr)
	}

	m := aggregator.Snapshot()
	logger.Info("simulation complete",
		"assessed", sum.Assessed,
		"skipped", sum.Skipped,
		"approved", m.Approved,
		"reviewed", m.Reviewed,
		"declined", m.Declined,
	)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	printMetrics(m)

	recent, err := store.ListRecent(ctx, 5)
	if err == nil && len(recent) > 0 {
		fmt.Println("\nMost recent assessments:")
		for _, a := range recent {
			fmt.Printf("  %-28s score=%3d %-8s confidence=%3d %v\n",
				a.TransactionID, a.OverallRiskScore, a.Recommendation, a.Confidence, a.TriggeredRules)
		}
	}
	return nil
}

// newEvaluator builds the rule evaluator. TIME rules share the calculator's
// night window so the two cannot drift apart.
func newEvaluator(cfg *config.Config, calc *risk.Calculator) *rules.Evaluator {
	return rules.NewEvaluator().
		WithMaxRules(cfg.MaxRulesPerEvaluation).
		WithNightEndHour(calc.Config().NightEndHour)
}

func printMetrics(m metrics.SystemMetrics) {
	fmt.Println("System metrics")
	fmt.Printf("  total transactions:      %d\n", m.TotalTransactions)
	fmt.Printf("  approved:                %d\n", m.Approved)
	fmt.Printf("  reviewed:                %d\n", m.Reviewed)
	fmt.Printf("  declined:                %d\n", m.Declined)
	fmt.Printf("  average risk score:      %.1f\n", m.AverageRiskScore)
	fmt.Printf("  average processing time: %s\n", m.AverageProcessingTime)
	fmt.Printf("  transactions per second: %.1f\n", m.TransactionsPerSecond)
}
