package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollector emits a fixed script of records and control blocks, then
// waits for cancellation or returns err.
type fakeCollector struct {
	name   string
	recs   []*Record
	kcbs   []KCB
	err    error
	kcbSrc bool
	runs   atomic.Int32
}

func (f *fakeCollector) Name() string   { return f.name }
func (f *fakeCollector) Status() string { return "Listening" }

func (f *fakeCollector) EmitsControlBlocks() bool { return f.kcbSrc }

func (f *fakeCollector) Run(ctx context.Context, sink Sink) error {
	f.runs.Add(1)
	for _, k := range f.kcbs {
		if err := sink.EmitKCB(ctx, k); err != nil {
			return err
		}
	}
	for _, r := range f.recs {
		cp := *r
		if err := sink.Emit(ctx, &cp); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestEndpointReceive(t *testing.T) {
	wake := make(chan struct{}, 1)
	ep := newEndpoint("x", 4, wake)
	ctx := context.Background()

	require.NoError(t, ep.EmitKCB(ctx, KCB{Handle: 1, Name: "a"}))
	require.NoError(t, ep.Emit(ctx, &Record{Index: 1}))
	require.NoError(t, ep.Emit(ctx, &Record{Index: 2}))
	assert.Len(t, wake, 1, "progress is signalled")
	assert.Equal(t, 3, ep.Len())

	var b Batch
	assert.Equal(t, 2, ep.receive(&b, 2))
	assert.Len(t, b.KCBs, 1)
	assert.Len(t, b.Records, 1)
	assert.Equal(t, 1, ep.receive(&b, 10))
	assert.Equal(t, uint64(3), ep.Sent())
}

func TestEndpointBlocksWhenFull(t *testing.T) {
	ep := newEndpoint("full", 1, make(chan struct{}, 1))
	require.NoError(t, ep.Emit(context.Background(), &Record{Index: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ep.Emit(ctx, &Record{Index: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), ep.Stalled())
}

func TestEngineDrainNow(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	r := &runner{c: &fakeCollector{name: "k"}, ep: newEndpoint("k", 0, e.wake)}
	e.runners = append(e.runners, r)
	e.byName["k"] = r

	ctx := context.Background()
	require.NoError(t, r.ep.Emit(ctx, regRecord(1, 0xABCD)))
	require.NoError(t, e.DrainNow())
	require.NoError(t, r.ep.EmitKCB(ctx, KCB{Handle: 0xABCD, Name: `HKLM\Software\X`}))
	require.NoError(t, e.DrainNow())

	s := e.Model().Snapshot()
	require.Len(t, s.View, 1)
	assert.Contains(t, s.View[0].InputsText(), `(HKLM\Software\X)`)
	assert.Equal(t, 1, e.Shared().Captured())
}

func TestEngineRun(t *testing.T) {
	shared := NewShared()
	e := NewEngine(shared, EngineOptions{DrainInterval: 5 * time.Millisecond})
	kernel := &fakeCollector{
		name:   "Kernel",
		kcbs:   []KCB{{Handle: 0x10, Name: `HKCU\Env`}},
		recs:   []*Record{regRecord(1, 0x10)},
		kcbSrc: true,
	}
	live := &fakeCollector{name: "PSF", recs: []*Record{
		rec(1, 100, "CreateFile", "Success"),
		rec(2, 100, "CreateFile", "Failure"),
	}}
	unavailable := &fakeCollector{name: "Application", err: ErrSourceUnavailable}
	e.Add(kernel)
	e.Add(live)
	e.Add(unavailable)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return e.Model().Snapshot().Counters.Captured == 3
	}, 2*time.Second, 5*time.Millisecond)

	s := e.Model().Snapshot()
	for _, r := range s.View {
		if r.Source == SourceKernel {
			assert.Contains(t, r.InputsText(), `(HKCU\Env)`)
		}
	}

	statuses := e.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "Kernel", statuses[0].Name)
	assert.True(t, statuses[0].Running)

	// Restarting a control block source resets the cache.
	require.NoError(t, e.StopCollector("Kernel"))
	assert.False(t, e.Statuses()[0].Running)
	assert.Equal(t, 1, e.Model().ControlBlocks().Len())
	require.NoError(t, e.StartCollector("Kernel"))
	assert.Eventually(t, func() bool { return kernel.runs.Load() == 2 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.StartCollector("nope"), ErrUnknownCollector)

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineFatalCollector(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	boom := errors.New("trace schema mismatch")
	e.Add(&fakeCollector{name: "Kernel", err: &DecodeError{Event: "FileIO/Read", Err: boom}})
	e.Add(&fakeCollector{name: "PSF"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsDecodeError(err))
}

func TestEngineAutoTarget(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{AutoTargetSource: "PSF"})
	r := &runner{c: &fakeCollector{name: "mixed"}, ep: newEndpoint("mixed", 0, e.wake)}
	e.runners = append(e.runners, r)

	ctx := context.Background()
	other := rec(1, 7, "Process/Start", "Success")
	other.Source = SourceKernel
	require.NoError(t, r.ep.Emit(ctx, other))
	require.NoError(t, r.ep.Emit(ctx, rec(2, 42, "CreateFile", "Success")))
	require.NoError(t, r.ep.Emit(ctx, rec(3, 43, "CreateFile", "Success")))
	require.NoError(t, e.DrainNow())

	assert.Equal(t, 42, e.Model().Filter().PID)
	assert.Equal(t, 42, e.Shared().FilterPID())
	assert.Equal(t, []uint64{2}, indices(e.Model().Snapshot().View))
}

func TestEngineFaultHandler(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	r := &runner{c: &fakeCollector{name: "x"}, ep: newEndpoint("x", 0, e.wake)}
	e.runners = append(e.runners, r)

	var faults []error
	e.SetFaultHandler(func(err error) bool {
		faults = append(faults, err)
		return len(faults) < 2
	})
	e.model.Subscribe(func(*Snapshot) { panic("render failed") })

	ctx := context.Background()
	require.NoError(t, r.ep.Emit(ctx, rec(1, 1, "CreateFile", "Success")))
	assert.NoError(t, e.DrainNow(), "first fault continues")

	require.NoError(t, r.ep.Emit(ctx, rec(2, 1, "CreateFile", "Success")))
	err := e.DrainNow()
	assert.ErrorIs(t, err, ErrDrainFault)
	assert.Len(t, faults, 2)
}

func TestEngineFilterPassthrough(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	require.NoError(t, e.SetPaused(true))
	assert.True(t, e.Shared().Paused())
	require.NoError(t, e.SetProcessFilter(9))
	assert.Equal(t, 9, e.Shared().FilterPID())

	cfg := DefaultFilterConfig()
	require.NoError(t, e.SetFilter(cfg))
	assert.False(t, e.Shared().Paused())
	assert.Equal(t, NoPID, e.Shared().FilterPID())

	require.NoError(t, e.Clear())
	assert.Equal(t, 0, e.Shared().Captured())
	res, err := e.Search("", true)
	require.NoError(t, err)
	assert.Equal(t, "0 found", res.String())
}

func TestEngineFilterFaultContinues(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	r := &runner{c: &fakeCollector{name: "x"}, ep: newEndpoint("x", 0, e.wake)}
	e.runners = append(e.runners, r)

	var faults []error
	e.SetFaultHandler(func(err error) bool {
		faults = append(faults, err)
		return true
	})

	ctx := context.Background()
	require.NoError(t, r.ep.Emit(ctx, rec(1, 5, "CreateFile", "Success")))
	require.NoError(t, e.DrainNow())

	// a nil record makes re-filtering panic inside the model lock
	e.model.records = append(e.model.records, nil)
	assert.NoError(t, e.SetProcessFilter(5))
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], ErrModelFault)
	assert.Equal(t, NoPID, e.Shared().FilterPID(), "failed update is not synced")

	e.model.records = e.model.records[:1]
	require.NoError(t, r.ep.Emit(ctx, rec(2, 6, "CreateFile", "Success")))
	done := make(chan error, 1)
	go func() {
		if err := e.SetProcessFilter(5); err != nil {
			done <- err
			return
		}
		done <- e.DrainNow()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("model lock still held after the fault")
	}
	assert.Equal(t, 5, e.Shared().FilterPID())
	assert.Equal(t, []uint64{1}, indices(e.Model().Snapshot().View))
}

func TestEngineFilterFaultAborts(t *testing.T) {
	e := NewEngine(NewShared(), EngineOptions{})
	e.SetFaultHandler(func(error) bool { return false })
	e.model.records = append(e.model.records, nil)

	err := e.SetPaused(true)
	require.ErrorIs(t, err, ErrModelFault)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, e.Run(ctx), ErrModelFault, "abort stops the engine")
}

func TestRunnerStartReportsRestart(t *testing.T) {
	r := &runner{c: &fakeCollector{name: "x"}, ep: newEndpoint("x", 0, make(chan struct{}, 1))}
	exit := func(*runner, error) {}
	ctx := context.Background()

	ok, restarted := r.start(ctx, exit)
	assert.True(t, ok)
	assert.False(t, restarted)

	ok, _ = r.start(ctx, exit)
	assert.False(t, ok, "already running")

	require.NoError(t, r.stop())
	ok, restarted = r.start(ctx, exit)
	assert.True(t, ok)
	assert.True(t, restarted)
	require.NoError(t, r.stop())
}
