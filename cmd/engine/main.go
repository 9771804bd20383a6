// Package main is the live engine entrypoint: it wires configuration,
// storage, broker, safety gate, router, audit log, and the optional
// status API into a lifecycle.Engine and runs it until a shutdown
// signal arrives. Flag parsing, signal handling, and the logger setup
// follow the teacher's cmd/bot/main.go run() function; the bot's
// strategy/dashboard/order-manager wiring is replaced with the
// strategy-collection engine's own collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy-engine/internal/audit"
	"github.com/eddiefleurent/strategy-engine/internal/broker"
	"github.com/eddiefleurent/strategy-engine/internal/clock"
	"github.com/eddiefleurent/strategy-engine/internal/config"
	"github.com/eddiefleurent/strategy-engine/internal/lifecycle"
	"github.com/eddiefleurent/strategy-engine/internal/retry"
	"github.com/eddiefleurent/strategy-engine/internal/router"
	"github.com/eddiefleurent/strategy-engine/internal/safety"
	"github.com/eddiefleurent/strategy-engine/internal/statusapi"
	"github.com/eddiefleurent/strategy-engine/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)
	logger.Infof("starting strategy engine in %s mode", cfg.Environment.Mode)

	lock, err := lifecycle.Acquire(filepath.Dir(cfg.Storage.Path), "strategy-engine")
	if err != nil {
		logger.WithError(err).Error("failed to acquire lifecycle lock")
		return 1
	}

	st, err := store.NewJSONStore(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Error("failed to open strategy store")
		_ = lock.Release()
		return 1
	}

	auditLog, err := audit.NewLog(cfg.Audit.Dir, cfg.Audit.Prefix, cfg.Audit.MaxBytes, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open audit log")
		_ = lock.Release()
		return 1
	}

	liveBroker := broker.NewTradierClient(cfg.Broker.APIKey, cfg.Broker.AccountID, cfg.Environment.Mode != "live", cfg.Broker.CallTimeout)
	breakerSettings := broker.DefaultCircuitBreakerSettings
	if cfg.Broker.CircuitBreakerTimeout > 0 {
		breakerSettings.Timeout = cfg.Broker.CircuitBreakerTimeout
	}
	if cfg.Broker.CircuitBreakerMinReqs > 0 {
		breakerSettings.MinRequests = cfg.Broker.CircuitBreakerMinReqs
	}
	wrappedBroker := broker.NewCircuitBreakerBrokerWithSettings(liveBroker, breakerSettings)

	retryClient := retry.NewClient(nil)
	r := router.New(wrappedBroker, auditLog, retryClient, cfg.Broker.CallTimeout)

	gate := safety.NewGate(safety.Policy{
		KillSwitch:               cfg.Safety.KillSwitch,
		MaxPositionValue:         cfg.Safety.MaxPositionValue,
		MaxDailyLossPct:          cfg.Safety.MaxDailyLossPct,
		MaxOpenPositions:         cfg.Safety.MaxOpenPositions,
		PatternDayTradeProtect:   cfg.Safety.PatternDayTradeProtect,
		PatternDayTradeMinEquity: cfg.Safety.PatternDayTradeMinEquity,
		DuplicateWindow:          cfg.Safety.DuplicateWindow,
	}, time.Now)

	engine := lifecycle.New(clock.SystemClock{}, st, r, gate, wrappedBroker, cfg, logger, lock)

	var statusSrv *statusapi.Server
	if cfg.StatusAPI.Enabled {
		statusSrv = statusapi.New(statusapi.Config{Port: cfg.StatusAPI.Port, AuthToken: cfg.StatusAPI.AuthToken}, st, auditLog, engine, logger)
		go func() {
			if err := statusSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("status api server error")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping engine")
		engine.Shutdown(true)
		cancel()
	}()

	runErr := engine.Run(ctx)

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("status api shutdown error")
		}
	}

	if runErr != nil {
		logger.WithError(runErr).Error("engine stopped with error")
		return 1
	}
	logger.Info("engine stopped")
	return 0
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Environment.Mode == "live" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.WithError(err).Warn("invalid log level; defaulting to info")
	}
	return logger
}
