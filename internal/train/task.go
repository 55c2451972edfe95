package train

import (
	"context"
	"fmt"
)

// Task is a training run executing in the background.
type Task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	res    *Result
	err    error
}

// Start runs o in a new goroutine and returns a handle to it. Progress is
// read from o.Sink while the task runs.
func (o *Orchestrator) Start(ctx context.Context) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:     o.id,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("training panicked: %v", r)
				o.log.Error("training panicked", "panic", r)
			}
		}()
		t.res, t.err = o.Run(ctx)
	}()
	return t
}

// ID returns the run identifier.
func (t *Task) ID() string { return t.id }

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel asks the run to stop. Learning checks for cancellation between
// environment steps.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the run finishes and returns its outcome.
func (t *Task) Wait() (*Result, error) {
	<-t.done
	return t.res, t.err
}
