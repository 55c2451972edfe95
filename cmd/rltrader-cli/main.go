package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"rltrader/internal/api"
	"rltrader/internal/progress"
	"rltrader/pkg/rltrader"
)

const version = "0.1.0"

var (
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	barStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// signStyle colours v green when positive and red when negative.
func signStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return lipgloss.NewStyle()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: rltrader-cli [-server URL] [-grpc ADDR] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies                           List backtest strategies\n")
	fmt.Fprintf(os.Stderr, "  backtest TICKER [STRATEGY] [MONTHS]  Run a backtest\n")
	fmt.Fprintf(os.Stderr, "  reports [TICKER]                     List stored backtest reports\n")
	fmt.Fprintf(os.Stderr, "  train TICKER [ALGO] [TIMESTEPS]      Start a training run and follow it\n")
	fmt.Fprintf(os.Stderr, "  status RUN_ID                        Show a training run\n")
	fmt.Fprintf(os.Stderr, "  progress                             Show training progress\n")
	fmt.Fprintf(os.Stderr, "  watch                                Stream training progress over gRPC\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	serverURL := flag.String("server", envOr("RLTRADER_SERVER", "http://127.0.0.1:8080"), "rltrader-server base URL")
	grpcAddr := flag.String("grpc", envOr("RLTRADER_GRPC", "127.0.0.1:9090"), "rltrader-server gRPC address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := rltrader.NewClient(*serverURL)
	var err error
	switch args[0] {
	case "version":
		fmt.Printf("rltrader-cli %s\n", version)
	case "strategies":
		var names []string
		if names, err = c.Strategies(ctx); err == nil {
			for _, n := range names {
				fmt.Println(n)
			}
		}
	case "backtest":
		err = backtest(ctx, c, args[1:])
	case "reports":
		ticker := ""
		if len(args) > 1 {
			ticker = args[1]
		}
		err = reports(ctx, c, ticker)
	case "train":
		err = trainAndFollow(ctx, c, *grpcAddr, args[1:])
	case "status":
		if len(args) < 2 {
			usage()
			os.Exit(1)
		}
		var resp *rltrader.TrainingResponse
		if resp, err = c.GetRun(ctx, args[1]); err == nil {
			err = printJSON(resp.Run)
		}
	case "progress":
		var p *rltrader.ProgressResponse
		if p, err = c.Progress(ctx); err == nil {
			printSnapshot(p.Snapshot)
			fmt.Println()
		}
	case "watch":
		err = watch(ctx, *grpcAddr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func backtest(ctx context.Context, c *rltrader.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("backtest needs a ticker")
	}
	req := rltrader.BacktestRequest{Ticker: args[0]}
	if len(args) > 1 {
		req.Strategy = args[1]
	}
	if len(args) > 2 {
		if _, err := fmt.Sscan(args[2], &req.Months); err != nil {
			return fmt.Errorf("months: %w", err)
		}
	}
	resp, err := c.Backtest(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Result.OK() {
		return fmt.Errorf("%s", resp.Result.Error)
	}
	if resp.Report != nil {
		return printJSON(resp.Report)
	}
	return printJSON(resp.Result)
}

func reports(ctx context.Context, c *rltrader.Client, ticker string) error {
	list, err := c.ListBacktests(ctx, ticker, 0)
	if err != nil {
		return err
	}
	fmt.Println(colHeaderStyle.Render(fmt.Sprintf("%-6s %-8s %-16s %10s %10s %14s",
		"ID", "TICKER", "STRATEGY", "SHARPE", "MAX_DD", "NET_WORTH")))
	for _, r := range list {
		fmt.Printf("%-6d %s %-16s %s %s %14.2f\n",
			r.ID,
			symbolStyle.Render(fmt.Sprintf("%-8s", r.Ticker)),
			r.StrategyName,
			signStyle(r.SharpeRatio).Render(fmt.Sprintf("%10.4f", r.SharpeRatio)),
			lossStyle.Render(fmt.Sprintf("%10.4f", r.MaxDrawdown)),
			r.FinalNetWorth)
	}
	return nil
}

func trainAndFollow(ctx context.Context, c *rltrader.Client, grpcAddr string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("train needs a ticker")
	}
	req := rltrader.TrainRequest{Ticker: args[0]}
	if len(args) > 1 {
		req.Algorithm = args[1]
	}
	if len(args) > 2 {
		if _, err := fmt.Sscan(args[2], &req.Timesteps); err != nil {
			return fmt.Errorf("timesteps: %w", err)
		}
	}
	run, err := c.StartTraining(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("started run %s (%s on %s)\n", run.ID, run.Algorithm, symbolStyle.Render(run.Ticker))

	if err := watch(ctx, grpcAddr); err != nil {
		fmt.Fprintf(os.Stderr, "\ngrpc watch unavailable (%v), polling\n", err)
	}
	resp, err := c.WaitForRun(ctx, run.ID, time.Second)
	if err != nil {
		return err
	}
	return printJSON(resp.Run)
}

func watch(ctx context.Context, addr string) error {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer cc.Close()
	err = api.WatchProgress(ctx, cc, func(s progress.Snapshot) bool {
		printSnapshot(s)
		return true
	})
	fmt.Println()
	return err
}

const barWidth = 30

func printSnapshot(s progress.Snapshot) {
	eta := "?"
	if s.Known() {
		eta = (time.Duration(s.ETASeconds) * time.Second).String()
	}
	filled := s.Fraction * barWidth / 100
	bar := barStyle.Render(strings.Repeat("#", filled)) + dimStyle.Render(strings.Repeat(".", barWidth-filled))
	fmt.Printf("\r[%s] %3d%%  eta %-12s", bar, s.Fraction, eta)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
