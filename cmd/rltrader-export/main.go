package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/indicators"
	"rltrader/internal/market"
	"rltrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ticker := flag.String("ticker", "", "symbol to export (required)")
	months := flag.Int("months", cfg.Simulation.Months, "lookback window in months")
	out := flag.String("out", "", "output CSV file (default: stdout)")
	trim := flag.Bool("trim", false, "drop indicator warm-up rows")
	flag.Parse()

	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "-ticker is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	load := market.LoadOptionsFromConfig(cfg)
	load.Log = logger
	interval := exportInterval(*months, domain.Interval(cfg.Data.Interval))
	bars := market.Load(ctx, market.NewFromConfig(cfg), strings.ToUpper(*ticker), *months,
		time.Now(), interval, load)
	if len(bars) == 0 {
		log.Fatalf("no data for %s", *ticker)
	}
	bars = indicators.Attach(bars)
	if *trim {
		bars = indicators.TrimWarmup(bars)
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("creating %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := writeCSV(w, bars, interval); err != nil {
		log.Fatalf("writing csv: %v", err)
	}
	logger.Info("exported bars", "ticker", *ticker, "interval", interval, "rows", len(bars))
}

// exportInterval picks minute bars for windows of a month or less and the
// configured interval otherwise.
func exportInterval(months int, configured domain.Interval) domain.Interval {
	if months <= 1 {
		return domain.IntervalMinute
	}
	if configured == "" {
		return domain.IntervalDaily
	}
	return configured
}

func writeCSV(w io.Writer, bars []domain.Bar, interval domain.Interval) error {
	layout := time.DateOnly
	if interval == domain.IntervalMinute {
		layout = time.RFC3339
	}
	cw := csv.NewWriter(w)
	header := []string{"date", "open", "high", "low", "close", "volume", "ma20", "ma50", "rsi", "macd", "macd_signal"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range bars {
		in := b.Indicators
		if in == nil {
			in = &domain.Indicators{}
		}
		row := []string{
			b.Timestamp.Format(layout),
			num(b.Open), num(b.High), num(b.Low), num(b.Close),
			strconv.FormatInt(b.Volume, 10),
			num(in.MA20), num(in.MA50), num(in.RSI), num(in.MACD), num(in.MACDSignal),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// num formats v, leaving NaN cells empty.
func num(v float64) string {
	if v != v {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
