package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"rltrader/internal/agent"
	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/progress"
	"rltrader/internal/store"
	"rltrader/internal/train"
	"rltrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ticker := flag.String("ticker", "", "symbol to train on (required)")
	months := flag.Int("months", cfg.Simulation.Months, "lookback window in months")
	algo := flag.String("algo", cfg.Training.Algorithm, "learning algorithm: qlearn or ars")
	timesteps := flag.Int("timesteps", cfg.Training.Timesteps, "environment steps to train for")
	balance := flag.Float64("balance", cfg.Simulation.InitialBalance, "initial cash balance")
	seed := flag.Int64("seed", cfg.Training.Seed, "random seed")
	modelPath := flag.String("model", "", "model file to write (default: <models_dir>/<TICKER>_<algo>.model)")
	evalOnly := flag.String("eval", "", "skip training and evaluate this saved model")
	flag.Parse()

	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "-ticker is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *modelPath == "" && *evalOnly == "" {
		*modelPath = filepath.Join(cfg.Storage.ModelsDir, fmt.Sprintf("%s_%s.model", strings.ToUpper(*ticker), *algo))
	}

	load := market.LoadOptionsFromConfig(cfg)
	load.Log = logger
	opts := train.Options{
		Ticker:         strings.ToUpper(*ticker),
		Months:         *months,
		Algorithm:      *algo,
		Timesteps:      *timesteps,
		InitialBalance: *balance,
		MinBars:        cfg.Simulation.MinBars,
		ModelPath:      *modelPath,
		Interval:       domain.Interval(cfg.Data.Interval),
		Load:           load,
		Hyper:          agent.HyperFromConfig(cfg.Training),
	}
	opts.Hyper.Seed = *seed
	tracker := progress.NewTracker()
	deps := train.Deps{Fetcher: market.NewFromConfig(cfg), Sink: tracker, Log: logger}

	var (
		res     *train.Result
		started = time.Now()
	)
	if *evalOnly != "" {
		res, err = train.Evaluate(ctx, opts, deps, *evalOnly)
		if err == nil {
			res.RunID = "eval-" + uuid.NewString()
		}
	} else {
		res, err = runTraining(ctx, opts, deps, tracker)
	}
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	record(ctx, cfg, res, *months, started)

	fmt.Printf("run:             %s\n", res.RunID)
	fmt.Printf("ticker:          %s (%s)\n", res.Ticker, res.Algorithm)
	fmt.Printf("final net worth: %.2f\n", res.FinalNetWorth)
	fmt.Printf("total reward:    %.4f\n", res.TotalReward)
	fmt.Printf("sharpe ratio:    %.4f\n", res.SharpeRatio)
	fmt.Printf("max drawdown:    %.4f\n", res.MaxDrawdown)
	if res.ModelPath != "" {
		fmt.Printf("model:           %s\n", res.ModelPath)
	}
}

// runTraining starts the run in the background and prints progress until
// it finishes.
func runTraining(ctx context.Context, opts train.Options, deps train.Deps, tracker *progress.Tracker) (*train.Result, error) {
	o, err := train.New(opts, deps)
	if err != nil {
		return nil, err
	}
	task := o.Start(ctx)

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	updates := progress.Watch(watchCtx, tracker, time.Second)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return task.Wait()
			}
			if snap.Known() {
				fmt.Fprintf(os.Stderr, "\rprogress %3d%%  eta %6.0fs", snap.Fraction, snap.ETASeconds)
			} else {
				fmt.Fprintf(os.Stderr, "\rprogress %3d%%  eta      ?", snap.Fraction)
			}
		case <-task.Done():
			fmt.Fprintln(os.Stderr)
			return task.Wait()
		}
	}
}

// record stores the run and its equity curve. Failures are logged only.
func record(ctx context.Context, cfg *config.Config, res *train.Result, months int, started time.Time) {
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Printf("warning: cannot open sqlite store: %v", err)
		return
	}
	defer db.Close()

	run := domain.TrainingRun{
		ID:            res.RunID,
		Ticker:        res.Ticker,
		Algorithm:     string(res.Algorithm),
		Months:        months,
		Timesteps:     res.Timesteps,
		Status:        domain.RunStatusSucceeded,
		SharpeRatio:   res.SharpeRatio,
		MaxDrawdown:   res.MaxDrawdown,
		TotalReward:   res.TotalReward,
		FinalNetWorth: res.FinalNetWorth,
		ModelPath:     res.ModelPath,
		StartedAt:     started.UTC(),
		FinishedAt:    time.Now().UTC(),
	}
	if err := db.SaveTrainingRun(ctx, &run); err != nil {
		log.Printf("warning: %v", err)
	}
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteEquity(ctx, res.RunID, res.Equity()); err != nil {
		log.Printf("warning: writing equity curve: %v", err)
	}
}
