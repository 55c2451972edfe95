package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	f, eta := tr.Read()
	assert.Equal(t, 0, f)
	assert.Equal(t, UnknownETA, eta)

	tr.Publish(40, 12.5)
	f, eta = tr.Read()
	assert.Equal(t, 40, f)
	assert.Equal(t, 12.5, eta)

	tr.Finish()
	snap := Read(tr)
	assert.Equal(t, Snapshot{Fraction: 100, ETASeconds: 0}, snap)
	assert.True(t, snap.Done())

	tr.Reset()
	snap = Read(tr)
	assert.Equal(t, 0, snap.Fraction)
	assert.False(t, snap.Known())
}

func TestTrackerNeverLowersFraction(t *testing.T) {
	tr := NewTracker()
	tr.Publish(60, 5)
	tr.Publish(30, 9)
	f, eta := tr.Read()
	assert.Equal(t, 60, f)
	assert.Equal(t, 9.0, eta, "eta is still refreshed")
}

func TestTrackerClamps(t *testing.T) {
	tr := NewTracker()
	tr.Publish(250, -3)
	f, eta := tr.Read()
	assert.Equal(t, 100, f)
	assert.Equal(t, UnknownETA, eta)
}

func TestTrackerConcurrentReaders(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, _ := tr.Read()
				if f < last {
					t.Errorf("fraction went backwards: %d -> %d", last, f)
					return
				}
				last = f
			}
		}()
	}

	for i := 0; i <= 1000; i++ {
		tr.Publish(Fraction(i, 1000), ETA(time.Duration(i)*time.Millisecond, float64(i)/1000))
	}
	tr.Finish()
	close(stop)
	wg.Wait()

	assert.Equal(t, Snapshot{Fraction: 100, ETASeconds: 0}, Read(tr))
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0, Fraction(0, 10))
	assert.Equal(t, 50, Fraction(5, 10))
	assert.Equal(t, 33, Fraction(1, 3))
	assert.Equal(t, 67, Fraction(2, 3))
	assert.Equal(t, 100, Fraction(12, 10))
	assert.Equal(t, 100, Fraction(0, 0))
}

func TestETA(t *testing.T) {
	assert.Equal(t, UnknownETA, ETA(time.Second, 0))
	assert.InDelta(t, 30.0, ETA(10*time.Second, 0.25), 1e-9)
	assert.Equal(t, 0.0, ETA(10*time.Second, 1))
}

func TestWatch(t *testing.T) {
	tr := NewTracker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := Watch(ctx, tr, time.Millisecond)
	first := <-ch
	assert.Equal(t, 0, first.Fraction)

	tr.Finish()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			require.True(t, ok)
			if s.Done() {
				cancel()
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("Watch never reported the terminal snapshot")
		}
	}
}
