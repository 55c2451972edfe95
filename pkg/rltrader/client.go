// Package rltrader is a Go SDK for the rltrader-server HTTP API.
package rltrader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rltrader/internal/api"
	"rltrader/internal/domain"
	"rltrader/internal/strategy"
)

// Re-exported request and response types.
type (
	TrainRequest     = api.TrainRequest
	TrainingResponse = api.TrainingResponse
	ProgressResponse = api.ProgressResponse
	BacktestRequest  = strategy.Request
	BacktestResponse = api.BacktestResponse
	ChartSeries      = api.ChartSeries
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rltrader: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the rltrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new rltrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StartTraining starts a background training run. The server answers 409
// while another run is active.
func (c *Client) StartTraining(ctx context.Context, req TrainRequest) (*domain.TrainingRun, error) {
	var run domain.TrainingRun
	if err := c.do(ctx, http.MethodPost, "/api/train", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a training run with its evaluated episode, if any.
func (c *Client) GetRun(ctx context.Context, id string) (*TrainingResponse, error) {
	var resp TrainingResponse
	if err := c.do(ctx, http.MethodGet, "/api/train/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunChart retrieves the chart series of an evaluated training run.
// indicators is a comma separated overlay list; empty selects all.
func (c *Client) RunChart(ctx context.Context, id, indicators string) (*ChartSeries, error) {
	path := "/api/train/" + url.PathEscape(id) + "/chart"
	if indicators != "" {
		path += "?indicators=" + url.QueryEscape(indicators)
	}
	var cs ChartSeries
	if err := c.do(ctx, http.MethodGet, path, nil, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Progress returns the current training progress.
func (c *Client) Progress(ctx context.Context) (*ProgressResponse, error) {
	var p ProgressResponse
	if err := c.do(ctx, http.MethodGet, "/api/progress", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WaitForRun polls GetRun every interval until the run leaves the running
// state or ctx is done.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (*TrainingResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if resp.Run.Status != domain.RunStatusRunning {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Backtest runs a strategy over historical data.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBacktests returns stored backtest reports, newest first. An empty
// ticker lists every ticker; limit <= 0 uses the server default.
func (c *Client) ListBacktests(ctx context.Context, ticker string, limit int) ([]domain.BacktestReport, error) {
	q := url.Values{}
	if ticker != "" {
		q.Set("ticker", ticker)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/backtests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var reports []domain.BacktestReport
	if err := c.do(ctx, http.MethodGet, path, nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// Strategies lists the strategy names the server can backtest.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
