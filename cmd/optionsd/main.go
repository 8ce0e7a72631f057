package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"binary-options-sim/internal/api"
	"binary-options-sim/internal/binance"
	"binary-options-sim/internal/config"
	"binary-options-sim/internal/database"
	"binary-options-sim/internal/events"
	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/logger"
	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/modes"
	"binary-options-sim/internal/oracle"
	"binary-options-sim/internal/reconcile"
	"binary-options-sim/internal/scheduler"
	"binary-options-sim/internal/settlement"
	"binary-options-sim/internal/store"
	"binary-options-sim/internal/trader"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Optional .env, applied before viper reads the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFromConfig(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	prices := newOracle(ctx, &cfg, log)

	initial, err := decimal.NewFromString(cfg.Ledger.InitialBalance)
	if err != nil || initial.IsNegative() {
		log.Fatal("Invalid ledger.initial_balance", zap.String("value", cfg.Ledger.InitialBalance))
	}
	profits, err := settlement.NewProfitTable(cfg.Trading.Durations)
	if err != nil {
		log.Fatal("Invalid duration table", zap.Error(err))
	}
	policy, err := settlement.NewPolicy(cfg.Settlement)
	if err != nil {
		log.Fatal("Invalid settlement policy", zap.Error(err))
	}

	bus := events.NewBus(log)
	balances := ledger.NewLedger(db, log, bus, strings.ToUpper(cfg.Ledger.DefaultAsset), initial)
	trades := store.NewTradeStore(db, log)
	registry, err := modes.NewRegistry(ctx, db, log)
	if err != nil {
		log.Fatal("Failed to load trading modes", zap.Error(err))
	}

	// Settlement reads the oracle directly so an outage becomes a push at
	// the entry price rather than a settlement on a stale price.
	resolver := settlement.NewResolver(trades, balances, registry, prices, policy, log,
		settlement.WithPublisher(bus), settlement.WithMetrics(m))

	clock := scheduler.RealClock{}
	sched, err := scheduler.New(clock, resolver, cfg.Settlement.Workers, log, m)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	engine := trader.NewEngine(log, cfg.Trading.Symbols, trader.Deps{
		Ledger:    balances,
		Trades:    trades,
		Modes:     registry,
		Scheduler: sched,
		Oracle:    oracle.NewLastKnown(prices, log),
		Profits:   profits,
		Publisher: bus,
		Metrics:   m,
		Clock:     clock,
	})

	interval := time.Duration(cfg.Settlement.SweepInterval) * time.Second
	grace := time.Duration(cfg.Settlement.OrphanGrace) * time.Second
	sweeper := reconcile.NewSweeper(trades, resolver, sched, clock, interval, m, log,
		reconcile.WithOrphanRefunds(balances, grace))

	// Recover trades left active or unpaid by the previous run.
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Fatal("Startup reconciliation failed", zap.Error(err))
	}
	log.Info("Startup reconciliation done",
		zap.Int("expired_settled", report.ExpiredSettled),
		zap.Int("rearmed", report.Rearmed),
		zap.Int("payouts_applied", report.PayoutsApplied),
		zap.Int("stakes_refunded", report.StakesRefunded))
	go sweeper.Run(ctx)

	server := api.NewServer(engine, bus, sweeper, reg, cfg.Server, log)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			log.Error("Web server stopped", zap.Error(err))
			cancel()
		}
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigchan:
		log.Info("Shutdown signal received, gracefully shutting down...")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Web server shutdown incomplete", zap.Error(err))
	}
	cancel()
	sched.Stop()

	log.Info("Simulator has been shut down.")
}

// newOracle builds the configured price source.
func newOracle(ctx context.Context, cfg *config.Config, log *zap.Logger) oracle.PriceOracle {
	if cfg.Oracle.Source == "simulated" {
		start := make(map[string]float64, len(cfg.Oracle.StartPrices))
		for symbol, p := range cfg.Oracle.StartPrices {
			// viper lower-cases map keys.
			start[strings.ToUpper(symbol)] = p
		}
		log.Info("Using simulated prices", zap.Int("symbols", len(start)))
		return oracle.NewRandomWalk(start, cfg.Oracle.Volatility, time.Now().UnixNano())
	}

	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(ctx); err != nil {
		log.Warn("Binance API unreachable at startup, opens will fail until it recovers", zap.Error(err))
	} else {
		log.Info("Successfully connected to Binance API.")
	}
	return oracle.NewBinanceOracle(restClient)
}
