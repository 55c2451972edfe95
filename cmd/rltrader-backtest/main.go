package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/store"
	"rltrader/internal/strategy"
	"rltrader/internal/strategy/builtins"
	"rltrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ticker := flag.String("ticker", "", "symbol to backtest (required unless -list)")
	months := flag.Int("months", cfg.Simulation.Months, "lookback window in months")
	name := flag.String("strategy", cfg.Backtest.Strategy, "strategy name")
	balance := flag.Float64("balance", cfg.Simulation.InitialBalance, "initial cash balance")
	list := flag.Bool("list", false, "list stored reports and exit")
	noSave := flag.Bool("no-save", false, "do not store the report")
	flag.Parse()

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()

	if *list {
		printReports(ctx, db, strings.ToUpper(*ticker))
		return
	}
	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "-ticker is required")
		flag.Usage()
		os.Exit(2)
	}

	registry := builtins.Registry()
	load := market.LoadOptionsFromConfig(cfg)
	load.Log = logger
	bt := strategy.NewBacktester(market.NewFromConfig(cfg), registry, strategy.Options{
		InitialBalance: *balance,
		MinBars:        cfg.Simulation.MinBars,
		Interval:       domain.Interval(cfg.Data.Interval),
		Load:           load,
		Log:            logger,
	})

	res, err := bt.Run(ctx, strategy.Request{Ticker: *ticker, Months: *months, Strategy: *name})
	if err != nil {
		log.Fatalf("backtest failed: %v (available: %s)", err, strings.Join(registry.List(), ", "))
	}
	if !res.OK() {
		log.Fatalf("backtest failed: %s", res.Error)
	}

	fmt.Printf("ticker:          %s\n", res.Ticker)
	fmt.Printf("strategy:        %s\n", res.Strategy)
	fmt.Printf("steps:           %d\n", len(res.Actions))
	fmt.Printf("final net worth: %.2f\n", res.FinalNetWorth)
	fmt.Printf("sharpe ratio:    %.4f\n", res.SharpeRatio)
	fmt.Printf("max drawdown:    %.4f\n", res.MaxDrawdown)

	if *noSave {
		return
	}
	report := res.Report(time.Now())
	if err := db.SaveBacktestReport(ctx, &report); err != nil {
		log.Fatalf("saving report: %v", err)
	}
	runID := fmt.Sprintf("backtest-%d", report.ID)
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteEquity(ctx, runID, res.Equity()); err != nil {
		logger.Warn("writing equity curve", "run_id", runID, "err", err)
	}
	fmt.Printf("report id:       %d\n", report.ID)
}

func printReports(ctx context.Context, rs store.ReportStore, ticker string) {
	reports, err := rs.ListBacktestReports(ctx, ticker, 50)
	if err != nil {
		log.Fatalf("listing reports: %v", err)
	}
	fmt.Printf("%-6s %-8s %-16s %10s %10s %14s %7s  %s\n",
		"ID", "TICKER", "STRATEGY", "SHARPE", "MAX_DD", "NET_WORTH", "MONTHS", "TIMESTAMP")
	for _, r := range reports {
		fmt.Printf("%-6d %-8s %-16s %10.4f %10.4f %14.2f %7d  %s\n",
			r.ID, r.Ticker, r.StrategyName, r.SharpeRatio, r.MaxDrawdown, r.FinalNetWorth,
			r.PeriodMonths, r.Timestamp.Format(time.DateTime))
	}
}
