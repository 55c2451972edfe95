package main

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"rltrader/internal/domain"
	"rltrader/internal/indicators"
	"rltrader/internal/market"
)

func TestWriteCSV(t *testing.T) {
	bars := indicators.Attach(market.TrendSeries("UP", 60, 100, 1))
	var buf bytes.Buffer
	if err := writeCSV(&buf, bars, domain.IntervalDaily); err != nil {
		t.Fatalf("writeCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 61 {
		t.Fatalf("got %d lines, want 61", len(lines))
	}
	if !strings.HasPrefix(lines[0], "date,open,high,low,close,volume,ma20") {
		t.Errorf("header = %q", lines[0])
	}
	// MA50 is still warming up on the first row.
	first := strings.Split(lines[1], ",")
	if first[4] != "100" || first[7] != "" {
		t.Errorf("first row = %v", first)
	}
	last := strings.Split(lines[60], ",")
	if last[7] == "" {
		t.Errorf("last row should carry ma50: %v", last)
	}
}

func TestNum(t *testing.T) {
	if got := num(math.NaN()); got != "" {
		t.Errorf("num(NaN) = %q", got)
	}
	if got := num(1.5); got != "1.5" {
		t.Errorf("num(1.5) = %q", got)
	}
}

func TestExportInterval(t *testing.T) {
	cases := []struct {
		months     int
		configured domain.Interval
		want       domain.Interval
	}{
		{0, domain.IntervalDaily, domain.IntervalMinute},
		{1, domain.IntervalDaily, domain.IntervalMinute},
		{2, domain.IntervalDaily, domain.IntervalDaily},
		{12, "", domain.IntervalDaily},
		{12, domain.IntervalMinute, domain.IntervalMinute},
	}
	for _, c := range cases {
		if got := exportInterval(c.months, c.configured); got != c.want {
			t.Errorf("exportInterval(%d, %q) = %q, want %q", c.months, c.configured, got, c.want)
		}
	}
}

func TestWriteCSVMinuteTimestamps(t *testing.T) {
	bars := market.FlatSeries("M", 2, 10)
	var buf bytes.Buffer
	if err := writeCSV(&buf, bars, domain.IntervalMinute); err != nil {
		t.Fatalf("writeCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := bars[1].Timestamp.Format(time.RFC3339)
	if got := strings.Split(lines[2], ",")[0]; got != want {
		t.Errorf("minute row timestamp = %q, want %q", got, want)
	}
}
