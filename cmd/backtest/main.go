// Package main is the backtest CLI driver (§4.7): it loads a strategy
// definition and a bar CSV, replays them through internal/backtest.Run,
// and prints the resulting BacktestResult as JSON. Flag handling follows
// the teacher's cmd/bot/main.go run() convention (flag.StringVar, exit
// code from a run() helper) narrowed to the backtest driver's own inputs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/strategy-engine/internal/backtest"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/safety"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		strategyPath string
		barsPath     string
		initialCash  float64
		killSwitch   bool
	)
	flag.StringVar(&strategyPath, "strategy", "", "Path to a YAML strategy definition")
	flag.StringVar(&barsPath, "bars", "", "Path to a CSV bar file")
	flag.Float64Var(&initialCash, "cash", 100000, "Starting cash for the replay")
	flag.BoolVar(&killSwitch, "kill-switch", false, "Reject the initial entry as the safety gate would with kill_switch set")
	flag.Parse()

	if strategyPath == "" || barsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -strategy strategy.yaml -bars bars.csv")
		return 2
	}

	strat, err := loadStrategy(strategyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load strategy: %v\n", err)
		return 1
	}

	bars, err := backtest.ReadBars(barsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read bars: %v\n", err)
		return 1
	}

	cfg := backtest.RunConfig{InitialCash: initialCash}
	if killSwitch {
		cfg.SafetyPolicy = &safety.Policy{KillSwitch: true}
	}

	result, err := backtest.Run(context.Background(), bars, strat, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest run failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		return 1
	}
	return 0
}

func loadStrategy(path string) (*models.Strategy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-provided CLI argument
	if err != nil {
		return nil, fmt.Errorf("reading strategy file %q: %w", path, err)
	}
	var strat models.Strategy
	if err := yaml.Unmarshal(data, &strat); err != nil {
		return nil, fmt.Errorf("parsing strategy file %q: %w", path, err)
	}
	return &strat, nil
}
