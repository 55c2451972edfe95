package domain

import "time"

// BacktestReport is the flat, tabular summary of one backtest run.
type BacktestReport struct {
	ID            int64     `json:"id,omitempty"`
	Ticker        string    `json:"ticker"`
	StrategyName  string    `json:"strategy_name"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	FinalNetWorth float64   `json:"final_net_worth"`
	PeriodMonths  int       `json:"period_months"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// TrainingRun records one training invocation and its evaluation metrics.
type TrainingRun struct {
	ID            string    `json:"id"`
	Ticker        string    `json:"ticker"`
	Algorithm     string    `json:"algorithm"`
	Months        int       `json:"months"`
	Timesteps     int       `json:"timesteps"`
	Status        RunStatus `json:"status"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	TotalReward   float64   `json:"total_reward"`
	FinalNetWorth float64   `json:"final_net_worth"`
	ModelPath     string    `json:"model_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// EquityPoint is one step of an evaluated or backtested episode.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
	NetWorth  float64   `json:"net_worth"`
	Side      Side      `json:"side"`
}
