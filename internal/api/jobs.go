package api

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rltrader/internal/agent"
	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/store"
	"rltrader/internal/train"
)

// TrainRequest is the body of POST /api/train. Zero fields take the
// configured defaults.
type TrainRequest struct {
	Ticker         string  `json:"ticker"`
	Months         int     `json:"months,omitempty"`
	Algorithm      string  `json:"algorithm,omitempty"`
	Timesteps      int     `json:"timesteps,omitempty"`
	InitialBalance float64 `json:"initial_balance,omitempty"`
}

// Job is a training run known to this process.
type Job struct {
	Run    domain.TrainingRun
	Result *train.Result

	task *train.Task
	done chan struct{}
}

// JobManager runs at most one training job at a time and remembers the
// outcome of every job started by this process.
type JobManager struct {
	cfg  *config.Config
	deps Deps
	load market.LoadOptions

	mu     sync.Mutex
	active *Job
	jobs   map[string]*Job
}

// NewJobManager creates a JobManager publishing into deps.Tracker.
func NewJobManager(cfg *config.Config, deps Deps, load market.LoadOptions) *JobManager {
	return &JobManager{
		cfg:  cfg,
		deps: deps,
		load: load,
		jobs: make(map[string]*Job),
	}
}

func (m *JobManager) options(req TrainRequest, id string) train.Options {
	opts := train.Options{
		RunID:          id,
		Ticker:         strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Months:         req.Months,
		Algorithm:      req.Algorithm,
		Timesteps:      req.Timesteps,
		InitialBalance: req.InitialBalance,
		MinBars:        m.cfg.Simulation.MinBars,
		Interval:       domain.Interval(m.cfg.Data.Interval),
		Now:            m.deps.Now(),
		Load:           m.load,
		Hyper:          agent.HyperFromConfig(m.cfg.Training),
	}
	if opts.Months <= 0 {
		opts.Months = m.cfg.Simulation.Months
	}
	if opts.Algorithm == "" {
		opts.Algorithm = m.cfg.Training.Algorithm
	}
	if opts.Timesteps <= 0 {
		opts.Timesteps = m.cfg.Training.Timesteps
	}
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = m.cfg.Simulation.InitialBalance
	}
	if m.cfg.Storage.ModelsDir != "" {
		opts.ModelPath = filepath.Join(m.cfg.Storage.ModelsDir,
			fmt.Sprintf("%s_%s_%s.model", opts.Ticker, strings.ToLower(opts.Algorithm), id))
	}
	return opts
}

// Start validates req and launches a training run in the background. It
// returns domain.ErrTrainingInProgress while another run is active.
func (m *JobManager) Start(ctx context.Context, req TrainRequest) (domain.TrainingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return domain.TrainingRun{}, fmt.Errorf("%w: run %s", domain.ErrTrainingInProgress, m.active.Run.ID)
	}

	opts := m.options(req, uuid.NewString())
	o, err := train.New(opts, train.Deps{
		Fetcher: m.deps.Fetcher,
		Sink:    m.deps.Tracker,
		Log:     m.deps.Log,
	})
	if err != nil {
		return domain.TrainingRun{}, err
	}

	job := &Job{
		Run: domain.TrainingRun{
			ID:        o.ID(),
			Ticker:    opts.Ticker,
			Algorithm: string(o.Kind()),
			Months:    opts.Months,
			Timesteps: opts.Timesteps,
			Status:    domain.RunStatusRunning,
			StartedAt: m.deps.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	if m.deps.Runs != nil {
		if err := m.deps.Runs.SaveTrainingRun(ctx, &job.Run); err != nil {
			return domain.TrainingRun{}, fmt.Errorf("recording training run: %w", err)
		}
	}

	job.task = o.Start(context.Background())
	m.active = job
	m.jobs[job.Run.ID] = job
	go m.finish(job)
	return job.Run, nil
}

// finish waits for job and records its outcome.
func (m *JobManager) finish(job *Job) {
	res, err := job.task.Wait()

	m.mu.Lock()
	job.Run.FinishedAt = m.deps.Now().UTC()
	if err != nil {
		job.Run.Status = domain.RunStatusFailed
		job.Run.Error = err.Error()
	} else {
		job.Result = res
		job.Run.Status = domain.RunStatusSucceeded
		job.Run.SharpeRatio = res.SharpeRatio
		job.Run.MaxDrawdown = res.MaxDrawdown
		job.Run.TotalReward = res.TotalReward
		job.Run.FinalNetWorth = res.FinalNetWorth
		job.Run.ModelPath = res.ModelPath
	}
	run := job.Run
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log := m.deps.Log
	if m.deps.Runs != nil {
		if err := m.deps.Runs.SaveTrainingRun(ctx, &run); err != nil && log != nil {
			log.Error("recording training outcome", "run_id", run.ID, "err", err)
		}
	}
	if res != nil && m.deps.Equity != nil {
		if err := m.deps.Equity.WriteEquity(ctx, run.ID, res.Equity()); err != nil && log != nil {
			log.Error("writing equity curve", "run_id", run.ID, "err", err)
		}
	}

	m.mu.Lock()
	if m.active == job {
		m.active = nil
	}
	m.mu.Unlock()
	close(job.done)
}

// Get returns a snapshot of the job with the given id. Jobs started by an
// earlier process are read from the run store without a result.
func (m *JobManager) Get(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	var snap Job
	if ok {
		snap = Job{Run: job.Run, Result: job.Result}
	}
	m.mu.Unlock()
	if ok {
		return snap, nil
	}

	if m.deps.Runs == nil {
		return Job{}, store.ErrNotFound
	}
	run, err := m.deps.Runs.GetTrainingRun(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return Job{Run: *run}, nil
}

// Active returns the id of the running job, or "".
func (m *JobManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.Run.ID
}

// Wait blocks until the job with the given id has been recorded or ctx is
// done.
func (m *JobManager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, store.ErrNotFound
	}
	select {
	case <-job.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	return m.Get(ctx, id)
}

// CancelAll cancels the running job, if any.
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.task.Cancel()
	}
}
