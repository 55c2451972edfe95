package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rltrader/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", domain.IntervalDaily, 2024)
	wantBarPath := filepath.Join("/data", "bars", "1d", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	ep := ps.equityPath("run-1")
	wantEquityPath := filepath.Join("/data", "runs", "run-1.parquet")
	if ep != wantEquityPath {
		t.Errorf("equityPath mismatch:\n  got  %s\n  want %s", ep, wantEquityPath)
	}
	if !strings.HasSuffix(ep, ".parquet") {
		t.Errorf("equityPath should end in .parquet: %s", ep)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, domain.IntervalDaily, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", domain.IntervalDaily, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}
	if got[0].Indicators != nil {
		t.Error("cached bars should not carry indicators")
	}

	// Other intervals are isolated.
	other, err := ps.ReadBars(ctx, "AAPL", domain.IntervalMinute, start, end)
	if err != nil {
		t.Fatalf("ReadBars (1m): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ReadBars (1m) returned %d bars, want 0", len(other))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	first := domain.Bar{
		Symbol:    "MSFT",
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
	}
	if err := ps.WriteBars(ctx, domain.IntervalDaily, []domain.Bar{first}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same timestamp replaces; new timestamp appends.
	replaced := first
	replaced.Close = 404.0
	second := domain.Bar{
		Symbol:    "MSFT",
		Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
	}
	if err := ps.WriteBars(ctx, domain.IntervalDaily, []domain.Bar{second, replaced}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", domain.IntervalDaily, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged bar Close = %v, want 404.0", got[0].Close)
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Error("merged bars should be sorted by timestamp")
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 185.5},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 140.5},
	}
	if err := ps.WriteBars(ctx, domain.IntervalDaily, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.IntervalDaily)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	empty, err := NewParquetStore(t.TempDir()).ListSymbols(ctx, domain.IntervalDaily)
	if err != nil || empty != nil {
		t.Errorf("ListSymbols on empty dir = %v, %v; want nil, nil", empty, err)
	}
}

func TestParquetStoreEquity(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	points := []domain.EquityPoint{
		{Timestamp: ts, Close: 100, NetWorth: 10000, Side: domain.SideBuy},
		{Timestamp: ts.AddDate(0, 0, 1), Close: 101, NetWorth: 10100, Side: domain.SideHold},
		{Timestamp: ts.AddDate(0, 0, 2), Close: 99, NetWorth: 9900, Side: domain.SideSell},
	}
	if err := ps.WriteEquity(ctx, "run-abc", points); err != nil {
		t.Fatalf("WriteEquity: %v", err)
	}

	got, err := ps.ReadEquity(ctx, "run-abc")
	if err != nil {
		t.Fatalf("ReadEquity: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadEquity returned %d points, want 3", len(got))
	}
	for i := range points {
		if got[i].Side != points[i].Side || got[i].NetWorth != points[i].NetWorth {
			t.Errorf("point %d = %+v, want %+v", i, got[i], points[i])
		}
		if !got[i].Timestamp.Equal(points[i].Timestamp) {
			t.Errorf("point %d timestamp = %v, want %v", i, got[i].Timestamp, points[i].Timestamp)
		}
	}

	if _, err := ps.ReadEquity(ctx, "missing"); err == nil {
		t.Error("ReadEquity for unknown run should fail")
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()

	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreBacktestReports(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	reports := []*domain.BacktestReport{
		{Ticker: "NVDA", StrategyName: "rsi-threshold", SharpeRatio: 1.2, MaxDrawdown: 0.1, FinalNetWorth: 10500.456, PeriodMonths: 12, Timestamp: base},
		{Ticker: "AAPL", StrategyName: "rsi-threshold", SharpeRatio: 0.3, MaxDrawdown: 0.2, FinalNetWorth: 9800, PeriodMonths: 6, Timestamp: base.Add(time.Hour)},
		{Ticker: "NVDA", StrategyName: "ma-cross", SharpeRatio: -0.5, MaxDrawdown: 0.3, FinalNetWorth: 9000, PeriodMonths: 12, Timestamp: base.Add(2 * time.Hour)},
	}
	for _, r := range reports {
		if err := store.SaveBacktestReport(ctx, r); err != nil {
			t.Fatalf("SaveBacktestReport: %v", err)
		}
		if r.ID == 0 {
			t.Error("SaveBacktestReport should assign an ID")
		}
	}

	nvda, err := store.ListBacktestReports(ctx, "NVDA", 10)
	if err != nil {
		t.Fatalf("ListBacktestReports: %v", err)
	}
	if len(nvda) != 2 {
		t.Fatalf("ListBacktestReports(NVDA) returned %d, want 2", len(nvda))
	}
	if nvda[0].StrategyName != "ma-cross" {
		t.Errorf("newest report strategy = %q, want %q", nvda[0].StrategyName, "ma-cross")
	}
	if nvda[1].FinalNetWorth != 10500.46 {
		t.Errorf("FinalNetWorth = %v, want 10500.46 (rounded to cents)", nvda[1].FinalNetWorth)
	}

	all, err := store.ListBacktestReports(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListBacktestReports(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListBacktestReports limit 2 returned %d", len(all))
	}
}

func TestSQLiteStoreTrainingRuns(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	run := &domain.TrainingRun{
		ID:        "run-1",
		Ticker:    "NVDA",
		Algorithm: "qlearn",
		Months:    12,
		Timesteps: 5000,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveTrainingRun(ctx, run); err != nil {
		t.Fatalf("SaveTrainingRun: %v", err)
	}

	run.Status = domain.RunStatusSucceeded
	run.SharpeRatio = 0.8
	run.FinalNetWorth = 11000.125
	run.FinishedAt = run.StartedAt.Add(time.Minute)
	if err := store.SaveTrainingRun(ctx, run); err != nil {
		t.Fatalf("SaveTrainingRun (update): %v", err)
	}

	got, err := store.GetTrainingRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetTrainingRun: %v", err)
	}
	if got.Status != domain.RunStatusSucceeded {
		t.Errorf("Status = %q, want %q", got.Status, domain.RunStatusSucceeded)
	}
	if got.SharpeRatio != 0.8 {
		t.Errorf("SharpeRatio = %v, want 0.8", got.SharpeRatio)
	}
	if !got.FinishedAt.Equal(run.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, run.FinishedAt)
	}

	if _, err := store.GetTrainingRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTrainingRun(missing) error = %v, want ErrNotFound", err)
	}
}
