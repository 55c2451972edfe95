// Package store defines storage interfaces for the bar cache, episode equity
// curves, backtest reports and training-run records.
package store

import (
	"context"
	"time"

	"rltrader/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the given interval.
	WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and interval within [start, end].
	ReadBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols cached for the given interval.
	ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error)
}

// EquityStore persists per-step equity curves keyed by run ID.
type EquityStore interface {
	// WriteEquity replaces the equity curve stored for runID.
	WriteEquity(ctx context.Context, runID string, points []domain.EquityPoint) error

	// ReadEquity returns the equity curve stored for runID.
	ReadEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}

// ReportStore persists backtest summary reports.
type ReportStore interface {
	// SaveBacktestReport inserts a report and sets its ID.
	SaveBacktestReport(ctx context.Context, r *domain.BacktestReport) error

	// ListBacktestReports returns the most recent reports, optionally
	// filtered by ticker, up to limit.
	ListBacktestReports(ctx context.Context, ticker string, limit int) ([]domain.BacktestReport, error)
}

// RunStore persists training-run records.
type RunStore interface {
	// SaveTrainingRun inserts or replaces a run record.
	SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error

	// GetTrainingRun retrieves a run by ID. It returns ErrNotFound when absent.
	GetTrainingRun(ctx context.Context, id string) (*domain.TrainingRun, error)
}
