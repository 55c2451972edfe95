package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"rltrader/internal/domain"
	"rltrader/internal/progress"
	"rltrader/internal/store"
	"rltrader/internal/strategy"
)

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/train", s.handleStartTraining)
	mux.HandleFunc("GET /api/train/{id}", s.handleGetTraining)
	mux.HandleFunc("GET /api/train/{id}/chart", s.handleTrainingChart)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.Handle("GET /api/progress/ws", s.hub)
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ProgressResponse is the body of GET /api/progress.
type ProgressResponse struct {
	progress.Snapshot
	RunID string `json:"run_id,omitempty"`
}

// BacktestResponse is the body of POST /api/backtest.
type BacktestResponse struct {
	Result *strategy.Result       `json:"result"`
	Report *domain.BacktestReport `json:"report,omitempty"`
	Chart  *ChartSeries           `json:"chart,omitempty"`
}

// TrainingResponse is the body of GET /api/train/{id}.
type TrainingResponse struct {
	Run       domain.TrainingRun `json:"run"`
	Actions   []domain.Side      `json:"actions,omitempty"`
	NetWorths []float64          `json:"net_worths,omitempty"`
}

func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Ticker) == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	run, err := s.jobs.Start(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrTrainingInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedAlgorithm):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error("starting training", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.log.Info("training accepted", "run_id", run.ID, "ticker", run.Ticker, "algorithm", run.Algorithm)
		writeJSONStatus(w, http.StatusAccepted, run)
	}
}

func (s *Server) handleGetTraining(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "training run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := TrainingResponse{Run: job.Run}
	if job.Result != nil {
		resp.Actions = job.Result.Sides
		resp.NetWorths = job.Result.NetWorths
	}
	writeJSON(w, resp)
}

func (s *Server) handleTrainingChart(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil || job.Result == nil {
		writeError(w, http.StatusNotFound, "no evaluated result for this run")
		return
	}
	res := job.Result
	writeJSON(w, NewChartSeries(res.Ticker, res.Bars, res.NetWorths, res.Sides,
		ParseChartOptions(r.URL.Query().Get("indicators"))))
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, ProgressResponse{
		Snapshot: progress.Read(s.deps.Tracker),
		RunID:    s.jobs.Active(),
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req strategy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Ticker) == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.Months <= 0 {
		req.Months = s.cfg.Simulation.Months
	}
	if req.Strategy == "" {
		req.Strategy = s.cfg.Backtest.Strategy
	}

	res, err := s.bt.Run(r.Context(), req)
	if errors.Is(err, strategy.ErrUnknownStrategy) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("backtest failed", "ticker", req.Ticker, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := BacktestResponse{Result: res}
	if res.OK() {
		report := res.Report(s.deps.Now())
		if s.deps.Reports != nil {
			if err := s.deps.Reports.SaveBacktestReport(r.Context(), &report); err != nil {
				s.log.Error("saving backtest report", "err", err)
			} else if s.deps.Equity != nil {
				runID := fmt.Sprintf("backtest-%d", report.ID)
				if err := s.deps.Equity.WriteEquity(r.Context(), runID, res.Equity()); err != nil {
					s.log.Error("writing backtest equity", "run_id", runID, "err", err)
				}
			}
		}
		chart := NewChartSeries(res.Ticker, res.Bars, res.NetWorths, res.Actions,
			ParseChartOptions(r.URL.Query().Get("indicators")))
		resp.Report = &report
		resp.Chart = &chart
	}
	writeJSON(w, resp)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeJSON(w, []domain.BacktestReport{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	reports, err := s.deps.Reports.ListBacktestReports(r.Context(), strings.ToUpper(r.URL.Query().Get("ticker")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []domain.BacktestReport{}
	}
	writeJSON(w, reports)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string][]string{"strategies": s.deps.Registry.List()})
}
