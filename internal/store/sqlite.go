package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rltrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Compile-time interface checks.
var _ ReportStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements ReportStore and RunStore backed by a SQLite database.
// Monetary amounts are rounded to cents and stored as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtest_reports (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker          TEXT    NOT NULL,
	strategy_name   TEXT    NOT NULL,
	sharpe_ratio    REAL    NOT NULL,
	max_drawdown    REAL    NOT NULL,
	final_net_worth TEXT    NOT NULL,
	period_months   INTEGER NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_reports_ticker ON backtest_reports(ticker, created_at);

CREATE TABLE IF NOT EXISTS training_runs (
	id              TEXT PRIMARY KEY,
	ticker          TEXT    NOT NULL,
	algorithm       TEXT    NOT NULL,
	months          INTEGER NOT NULL,
	timesteps       INTEGER NOT NULL,
	status          TEXT    NOT NULL,
	sharpe_ratio    REAL    NOT NULL DEFAULT 0,
	max_drawdown    REAL    NOT NULL DEFAULT 0,
	total_reward    REAL    NOT NULL DEFAULT 0,
	final_net_worth TEXT    NOT NULL DEFAULT '0',
	model_path      TEXT    NOT NULL DEFAULT '',
	error           TEXT    NOT NULL DEFAULT '',
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ReportStore implementation
// ---------------------------------------------------------------------------

// SaveBacktestReport inserts a report and sets its ID.
func (s *SQLiteStore) SaveBacktestReport(ctx context.Context, r *domain.BacktestReport) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_reports
			(ticker, strategy_name, sharpe_ratio, max_drawdown, final_net_worth, period_months, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Ticker, r.StrategyName, r.SharpeRatio, r.MaxDrawdown,
		money(r.FinalNetWorth), r.PeriodMonths, r.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting backtest report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading report id: %w", err)
	}
	r.ID = id
	return nil
}

// ListBacktestReports returns the most recent reports, newest first. An
// empty ticker matches every report.
func (s *SQLiteStore) ListBacktestReports(ctx context.Context, ticker string, limit int) ([]domain.BacktestReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, strategy_name, sharpe_ratio, max_drawdown, final_net_worth, period_months, created_at
		FROM backtest_reports
		WHERE ? = '' OR ticker = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, ticker, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("querying backtest reports: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestReport
	for rows.Next() {
		var (
			r       domain.BacktestReport
			nw      string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Ticker, &r.StrategyName, &r.SharpeRatio, &r.MaxDrawdown, &nw, &r.PeriodMonths, &created); err != nil {
			return nil, fmt.Errorf("scanning backtest report: %w", err)
		}
		if r.FinalNetWorth, err = parseMoney(nw); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveTrainingRun inserts or replaces a run record.
func (s *SQLiteStore) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	var finished int64
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO training_runs
			(id, ticker, algorithm, months, timesteps, status, sharpe_ratio, max_drawdown,
			 total_reward, final_net_worth, model_path, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Ticker, run.Algorithm, run.Months, run.Timesteps, string(run.Status),
		run.SharpeRatio, run.MaxDrawdown, run.TotalReward, money(run.FinalNetWorth),
		run.ModelPath, run.Error, run.StartedAt.UnixMilli(), finished,
	)
	if err != nil {
		return fmt.Errorf("saving training run %s: %w", run.ID, err)
	}
	return nil
}

// GetTrainingRun retrieves a run by ID.
func (s *SQLiteStore) GetTrainingRun(ctx context.Context, id string) (*domain.TrainingRun, error) {
	var (
		run               domain.TrainingRun
		status, nw        string
		started, finished int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticker, algorithm, months, timesteps, status, sharpe_ratio, max_drawdown,
		       total_reward, final_net_worth, model_path, error, started_at, finished_at
		FROM training_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.Ticker, &run.Algorithm, &run.Months, &run.Timesteps, &status,
		&run.SharpeRatio, &run.MaxDrawdown, &run.TotalReward, &nw, &run.ModelPath,
		&run.Error, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("training run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading training run %s: %w", id, err)
	}
	run.Status = domain.RunStatus(status)
	if run.FinalNetWorth, err = parseMoney(nw); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished != 0 {
		run.FinishedAt = time.UnixMilli(finished).UTC()
	}
	return &run, nil
}

func money(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

func parseMoney(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
