// Package progress carries training progress from a single writer to any
// number of pollers. Each field is independently safe to read; readers must
// not assume the fraction and the ETA were published together.
package progress

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// UnknownETA is reported while no estimate is available.
const UnknownETA = -1.0

// Sink is the progress record a training run publishes into. Reset and
// Finish bracket a run; Publish never lowers the fraction within a run.
type Sink interface {
	// Reset sets the record to (0, unknown) at the start of a run.
	Reset()
	// Publish raises the fraction to fraction (0..100) and records eta in
	// seconds. A fraction lower than the current one is ignored.
	Publish(fraction int, etaSeconds float64)
	// Finish forces the terminal record (100, 0).
	Finish()
	// Read returns the current fraction and ETA in seconds.
	Read() (fraction int, etaSeconds float64)
}

// Snapshot is a point-in-time copy of a Sink.
type Snapshot struct {
	Fraction   int     `json:"fraction"`
	ETASeconds float64 `json:"eta_seconds"`
}

// Known reports whether the ETA is available.
func (s Snapshot) Known() bool { return s.ETASeconds >= 0 }

// Done reports whether the record is terminal.
func (s Snapshot) Done() bool { return s.Fraction >= 100 }

// Read takes a Snapshot of sink.
func Read(sink Sink) Snapshot {
	f, eta := sink.Read()
	return Snapshot{Fraction: f, ETASeconds: eta}
}

// Compile-time interface check.
var _ Sink = (*Tracker)(nil)

// Tracker is a lock-free Sink. The zero value reads as (0, 0); call Reset
// before the first run.
type Tracker struct {
	fraction atomic.Int64
	eta      atomic.Uint64 // math.Float64bits
}

// NewTracker returns a Tracker in the reset state.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset sets the record to (0, unknown).
func (t *Tracker) Reset() {
	t.fraction.Store(0)
	t.eta.Store(math.Float64bits(UnknownETA))
}

// Publish raises the fraction monotonically and stores the ETA. Values are
// clamped to 0..100 and negative or non-finite ETAs become UnknownETA.
func (t *Tracker) Publish(fraction int, etaSeconds float64) {
	f := int64(min(max(fraction, 0), 100))
	for {
		cur := t.fraction.Load()
		if f <= cur {
			break
		}
		if t.fraction.CompareAndSwap(cur, f) {
			break
		}
	}
	if etaSeconds < 0 || math.IsNaN(etaSeconds) || math.IsInf(etaSeconds, 0) {
		etaSeconds = UnknownETA
	}
	t.eta.Store(math.Float64bits(etaSeconds))
}

// Finish forces (100, 0).
func (t *Tracker) Finish() {
	t.fraction.Store(100)
	t.eta.Store(math.Float64bits(0))
}

// Read returns the current fraction and ETA.
func (t *Tracker) Read() (int, float64) {
	return int(t.fraction.Load()), math.Float64frombits(t.eta.Load())
}

// Fraction returns min(100, round(100*done/total)). A non-positive total
// reports 100.
func Fraction(done, total int) int {
	if total <= 0 {
		return 100
	}
	return min(100, int(math.Round(100*float64(done)/float64(total))))
}

// ETA projects the remaining time from the elapsed time and the completed
// ratio (0..1]. It returns UnknownETA before any progress was made.
func ETA(elapsed time.Duration, ratio float64) float64 {
	if ratio <= 0 || math.IsNaN(ratio) {
		return UnknownETA
	}
	if ratio >= 1 {
		return 0
	}
	total := elapsed.Seconds() / ratio
	return math.Max(total-elapsed.Seconds(), 0)
}

// Watch polls sink every interval and sends a Snapshot whenever it
// changes. The first snapshot is sent immediately. The channel is closed
// when ctx is done.
func Watch(ctx context.Context, sink Sink, interval time.Duration) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := Snapshot{Fraction: -1}
		for {
			cur := Read(sink)
			if cur != last {
				select {
				case ch <- cur:
					last = cur
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}
