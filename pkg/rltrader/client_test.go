package rltrader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rltrader/internal/api"
	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/progress"
	"rltrader/internal/strategy/builtins"
)

func newTestClient(t *testing.T) (*Client, *progress.Tracker) {
	t.Helper()
	f := market.NewStaticFetcher()
	f.Set("WAVE", market.WaveSeries("WAVE", 120, 100, 10, 16))

	cfg := &config.Config{}
	cfg.Storage.ModelsDir = t.TempDir()
	cfg.Data.Retries = 1
	cfg.Data.RetryDelay = time.Millisecond
	cfg.ApplyDefaults()

	tracker := progress.NewTracker()
	srv := api.NewServer(cfg, api.Deps{
		Fetcher:  f,
		Registry: builtins.Registry(),
		Tracker:  tracker,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Jobs().CancelAll()
		ts.Close()
	})
	return NewClient(ts.URL + "/"), tracker
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestStrategies(t *testing.T) {
	c, _ := newTestClient(t)
	names, err := c.Strategies(context.Background())
	if err != nil {
		t.Fatalf("Strategies: %v", err)
	}
	if len(names) < 2 {
		t.Errorf("expected built-in strategies, got %v", names)
	}
}

func TestBacktest(t *testing.T) {
	c, _ := newTestClient(t)
	resp, err := c.Backtest(context.Background(), BacktestRequest{Ticker: "WAVE", Months: 6, Strategy: "rsi-threshold"})
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if !resp.Result.OK() {
		t.Fatalf("backtest failed: %s", resp.Result.Error)
	}
	if len(resp.Result.Actions) != len(resp.Result.NetWorths) {
		t.Errorf("actions %d, net worths %d", len(resp.Result.Actions), len(resp.Result.NetWorths))
	}

	// No report store is configured, so nothing is listed.
	reports, err := c.ListBacktests(context.Background(), "WAVE", 10)
	if err != nil {
		t.Fatalf("ListBacktests: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("expected no reports, got %d", len(reports))
	}
}

func TestBacktestUnknownStrategy(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Backtest(context.Background(), BacktestRequest{Ticker: "WAVE", Strategy: "nope"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message == "" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestTrainAndWait(t *testing.T) {
	c, tracker := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := c.StartTraining(ctx, TrainRequest{Ticker: "WAVE", Algorithm: "ars", Timesteps: 400})
	if err != nil {
		t.Fatalf("StartTraining: %v", err)
	}
	if run.Algorithm != "ars" {
		t.Errorf("algorithm = %q, want ars", run.Algorithm)
	}

	resp, err := c.WaitForRun(ctx, run.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForRun: %v", err)
	}
	if resp.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s (%s)", resp.Run.Status, resp.Run.Error)
	}

	p, err := c.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Fraction != 100 {
		t.Errorf("fraction = %d, want 100", p.Fraction)
	}
	if f, _ := tracker.Read(); f != 100 {
		t.Errorf("tracker fraction = %d", f)
	}

	cs, err := c.RunChart(ctx, run.ID, "ma")
	if err != nil {
		t.Fatalf("RunChart: %v", err)
	}
	if len(cs.MA20) != len(cs.Close) || cs.RSI != nil {
		t.Errorf("chart overlays: ma20=%d rsi=%d", len(cs.MA20), len(cs.RSI))
	}
}

func TestGetRunNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.GetRun(context.Background(), "missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
