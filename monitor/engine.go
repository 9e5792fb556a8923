package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultDrainInterval    = 100 * time.Millisecond
	DefaultMinDrainInterval = 10 * time.Millisecond
	DefaultMaxBatch         = 16384
)

// EngineOptions configures an Engine. Zero values select defaults.
type EngineOptions struct {
	EndpointCapacity     int
	DrainInterval        time.Duration // upper bound on drain latency
	MinDrainInterval     time.Duration // progress signals closer than this are coalesced
	MaxBatch             int           // messages taken per endpoint per drain
	ControlBlockCapacity int
	Filter               *FilterConfig
	// AutoTargetSource names the source whose first record adopts its pid as
	// the process filter when none is set. Empty disables it.
	AutoTargetSource string
	Metrics          *Metrics
}

// FaultHandler decides what happens after a drain or a filter update fails.
// Returning true continues capturing; false stops the engine with the fault.
type FaultHandler func(err error) bool

// Engine is the consumer role: it owns the model and the collector
// endpoints and performs every drain on a single goroutine.
type Engine struct {
	shared *Shared
	model  *Model
	opts   EngineOptions
	wake   chan struct{}

	mu        sync.Mutex
	runners   []*runner
	byName    map[string]*runner
	runCtx    context.Context
	fatal     chan error
	onFault   FaultHandler
	adopted   bool
	lastDrain time.Time
}

// NewEngine creates an engine over shared.
func NewEngine(shared *Shared, opts EngineOptions) *Engine {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.MinDrainInterval <= 0 {
		opts.MinDrainInterval = DefaultMinDrainInterval
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	filter := DefaultFilterConfig()
	if opts.Filter != nil {
		filter = *opts.Filter
	}
	e := &Engine{
		shared: shared,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		byName: make(map[string]*runner),
		fatal:  make(chan error, 8),
		onFault: func(err error) bool {
			englog.Error().Err(err).Msg("drain fault, continuing")
			return true
		},
	}
	e.model = NewModel(
		WithControlBlockCache(NewControlBlockCache(opts.ControlBlockCapacity)),
		WithFilter(filter),
		WithMetrics(opts.Metrics),
	)
	e.syncShared()
	return e
}

// Add registers a collector. Collectors added after Run has started are
// started with StartCollector.
func (e *Engine) Add(c Collector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &runner{c: c, ep: newEndpoint(c.Name(), e.opts.EndpointCapacity, e.wake)}
	e.runners = append(e.runners, r)
	e.byName[c.Name()] = r
}

// SetFaultHandler replaces the default handler, which logs and continues.
func (e *Engine) SetFaultHandler(h FaultHandler) {
	e.mu.Lock()
	e.onFault = h
	e.mu.Unlock()
}

// Model returns the aggregation model.
func (e *Engine) Model() *Model { return e.model }

// Shared returns the shared collector context.
func (e *Engine) Shared() *Shared { return e.shared }

// Run starts every collector and drains until ctx is cancelled, Stop is
// called, a collector fails fatally or the fault handler aborts. Collectors
// whose source is unavailable are not fatal.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.runCtx = gctx
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()

	g.Go(func() error { return e.aggregate(gctx) })

	for _, r := range runners {
		e.startRunner(gctx, r)
	}

	g.Go(func() error {
		select {
		case err := <-e.fatal:
			return err
		case <-gctx.Done():
			return nil
		case <-e.shared.Done():
			cancel()
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		e.stopAll()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Stop raises the shared stop signal. Run returns after every collector has
// observed it.
func (e *Engine) Stop() { e.shared.Stop() }

func (e *Engine) startRunner(ctx context.Context, r *runner) bool {
	ok, restarted := r.start(ctx, e.collectorExited)
	if !ok {
		return false
	}
	if cbs, ok := r.c.(ControlBlockSource); ok && cbs.EmitsControlBlocks() && restarted {
		e.model.ControlBlocks().Reset()
	}
	englog.Info().Str("collector", r.c.Name()).Msg("collector started")
	return true
}

func (e *Engine) collectorExited(r *runner, err error) {
	switch {
	case err == nil:
		englog.Info().Str("collector", r.c.Name()).Msg("collector finished")
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrUnsupported):
		englog.Warn().Str("collector", r.c.Name()).Err(err).Msg("collector source unavailable, continuing without it")
	default:
		englog.Error().Str("collector", r.c.Name()).Err(err).Msg("collector failed")
		select {
		case e.fatal <- fmt.Errorf("collector %s: %w", r.c.Name(), err):
		default:
		}
	}
}

// StartCollector starts a registered collector. It is a no-op when the
// collector runs already. Run must be active.
func (e *Engine) StartCollector(name string) error {
	e.mu.Lock()
	r, ok := e.byName[name]
	ctx := e.runCtx
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, name)
	}
	if ctx == nil {
		return fmt.Errorf("start %s: engine not running", name)
	}
	e.startRunner(ctx, r)
	return nil
}

// StopCollector stops a registered collector and waits for it.
func (e *Engine) StopCollector(name string) error {
	e.mu.Lock()
	r, ok := e.byName[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, name)
	}
	err := r.stop()
	englog.Info().Str("collector", name).Msg("collector stopped")
	return err
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.stop()
		}()
	}
	wg.Wait()
}

// CollectorStatus is one line of the status bar.
type CollectorStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Stalled uint64 `json:"stalled"`
}

// Statuses reports every collector in registration order.
func (e *Engine) Statuses() []CollectorStatus {
	e.mu.Lock()
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()
	out := make([]CollectorStatus, 0, len(runners))
	for _, r := range runners {
		out = append(out, CollectorStatus{
			Name:    r.c.Name(),
			Status:  r.c.Status(),
			Running: r.running(),
			Queued:  r.ep.Len(),
			Sent:    r.ep.Sent(),
			Stalled: r.ep.Stalled(),
		})
	}
	return out
}

func (e *Engine) aggregate(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Collectors are stopping; take what they queued.
			e.stopAll()
			_ = e.DrainNow()
			return nil
		case <-e.wake:
			if time.Since(e.lastDrain) < e.opts.MinDrainInterval {
				continue
			}
		case <-ticker.C:
		}
		if err := e.DrainNow(); err != nil {
			return err
		}
	}
}

// DrainNow runs one drain cycle on the caller goroutine. The aggregator
// calls it; tests and embedders without Run may call it directly, but never
// concurrently with Run.
func (e *Engine) DrainNow() (err error) {
	e.lastDrain = time.Now()

	e.mu.Lock()
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()

	var b Batch
	for _, r := range runners {
		r.ep.receive(&b, e.opts.MaxBatch)
	}
	if b.Empty() {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = e.fault(fmt.Errorf("%w: %v\n%s", ErrDrainFault, p, debug.Stack()))
		}
	}()

	e.autoTarget(&b)
	res := e.model.Drain(b)
	e.shared.SetCaptured(e.model.Len())
	if res.KCBsAccepted > 0 || res.Backfilled > 0 {
		englog.Debug().
			Int("kcbs", res.KCBsAccepted).
			Int("backfilled", res.Backfilled).
			Int("resolved", res.Resolved).
			Msg("control blocks folded")
	}
	return nil
}

func (e *Engine) fault(err error) error {
	e.opts.Metrics.recordFault()
	e.mu.Lock()
	h := e.onFault
	e.mu.Unlock()
	if h != nil && h(err) {
		return nil
	}
	return err
}

func (e *Engine) autoTarget(b *Batch) {
	if e.opts.AutoTargetSource == "" || e.adopted {
		return
	}
	for _, r := range b.Records {
		if r.Source != e.opts.AutoTargetSource {
			continue
		}
		e.adopted = true
		if e.model.AdoptProcessFilter(int(r.PID)) {
			englog.Info().Uint32("pid", r.PID).Msg("process filter set to first traced process")
			e.syncShared()
		}
		return
	}
}

// syncShared copies the filter settings collectors read into the shared
// context.
func (e *Engine) syncShared() {
	f := e.model.Filter()
	e.shared.SetFilterPID(f.PID)
	e.shared.SetPaused(f.Paused)
}

// guard runs fn and turns a panic into a fault. When the handler aborts, the
// fault also stops Run.
func (e *Engine) guard(op string, fn func()) (err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err = e.fault(fmt.Errorf("%w: %s: %v\n%s", ErrModelFault, op, p, debug.Stack()))
		if err != nil {
			select {
			case e.fatal <- err:
			default:
			}
		}
	}()
	fn()
	return nil
}

// SetFilter replaces the filter configuration and re-applies it. A non-nil
// error means the update failed and the fault handler stopped the engine.
func (e *Engine) SetFilter(cfg FilterConfig) error {
	return e.guard("set filter", func() {
		e.model.SetFilter(cfg)
		e.syncShared()
	})
}

// SetPaused toggles pause.
func (e *Engine) SetPaused(paused bool) error {
	return e.guard("pause", func() {
		e.model.SetPaused(paused)
		e.syncShared()
	})
}

// SetProcessFilter sets the pid filter, NoPID for none.
func (e *Engine) SetProcessFilter(pid int) error {
	return e.guard("process filter", func() {
		e.model.SetProcessFilter(pid)
		e.syncShared()
	})
}

// Search runs a search on the model.
func (e *Engine) Search(query string, restart bool) (res SearchResult, err error) {
	err = e.guard("search", func() { res = e.model.Search(query, restart) })
	return res, err
}

// Clear empties the model.
func (e *Engine) Clear() error {
	return e.guard("clear", func() {
		e.model.Clear()
		e.shared.SetCaptured(0)
	})
}

// ResetControlBlocks empties the control block cache.
func (e *Engine) ResetControlBlocks() { e.model.ControlBlocks().Reset() }
