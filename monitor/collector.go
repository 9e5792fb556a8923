package monitor

import (
	"context"
	"errors"
	"sync"
)

// Collector acquires events from one source. Run blocks until ctx is
// cancelled or the source fails; it must return promptly after ctx is done.
// Collectors that block inside a platform call close their session when ctx
// is done so that the call returns.
type Collector interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
	// Status is a short human readable state such as "Listening".
	Status() string
}

// ControlBlockSource is implemented by collectors that emit registry control
// blocks. The engine resets the control block cache whenever such a collector
// is started again after a stop.
type ControlBlockSource interface {
	EmitsControlBlocks() bool
}

// runner gives a collector idempotent Start and cooperative Stop.
type runner struct {
	c  Collector
	ep *Endpoint

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started bool // started at least once
}

// start launches the collector if it is not running. restarted reports
// whether it had been started before. exit is called with the collector
// error when Run returns on its own.
func (r *runner) start(parent context.Context, exit func(*runner, error)) (ok, restarted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return false, true // still running
		}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cancel, r.done, r.err = cancel, done, nil
	restarted = r.started
	r.started = true

	go func() {
		defer close(done)
		err := r.c.Run(ctx, r.ep)
		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = nil
		}
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		if ctx.Err() == nil {
			exit(r, err)
		}
	}()
	return true, restarted
}

// stop cancels the collector and waits for Run to return. There is no
// timeout: a source whose close call hangs delays the caller.
func (r *runner) stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *runner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
