package collect

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tekert/psfmonitor/monitor"
)

type fakeLiveEvent struct {
	pid   uint32
	props props
}

func (e *fakeLiveEvent) PID() uint32      { return e.pid }
func (e *fakeLiveEvent) TID() uint32      { return 1 }
func (e *fakeLiveEvent) Time() time.Time  { return testTime }
func (e *fakeLiveEvent) Provider() string { return "" }

func (e *fakeLiveEvent) String(name string) (string, error) {
	if s, ok := e.props[name].(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoProperty, name)
}

func (e *fakeLiveEvent) Int(name string) (int64, error) {
	if v, ok := e.props[name].(int); ok {
		return int64(v), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoProperty, name)
}

type liveScript struct {
	session string
	events  []LiveEvent
	err     error
}

func (s *liveScript) Run(_ context.Context, session string, fn func(LiveEvent) error) error {
	s.session = session
	for _, ev := range s.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return s.err
}

func TestLiveCollectorRecords(t *testing.T) {
	shared := monitor.NewShared()
	shared.SetProcessName(42, "app.exe")
	src := &liveScript{events: []LiveEvent{
		&fakeLiveEvent{pid: 42, props: props{
			"Operation": "CreateFile",
			"Inputs":    "Path=\tC:\\x",
			"Result":    "Success",
			"Outputs":   "Handle=\t0x4",
			"Caller":    "app.exe+0x10",
			"Start":     100,
			"End":       600,
		}},
		&fakeLiveEvent{pid: 43, props: props{"Message": "fixup loaded"}},
	}}
	c := NewLiveCollector(shared, src)
	sink := &fakeSink{}
	require.NoError(t, c.Run(context.Background(), sink))
	require.Len(t, sink.recs, 2)

	r := sink.recs[0]
	assert.Equal(t, uint64(1), r.Index)
	assert.Equal(t, LiveProviderName, r.Source)
	assert.Equal(t, "CreateFile", r.Name)
	assert.Equal(t, "app.exe", r.ProcessName)
	assert.Equal(t, "Path=\tC:\\x", r.InputsText())
	assert.Equal(t, "Success", r.Result)
	assert.Equal(t, "Handle=\t0x4", r.OutputsText())
	assert.Equal(t, "app.exe+0x10", r.Caller)
	assert.Equal(t, 50*time.Microsecond, r.Duration())
	assert.Equal(t, testTime, r.End)

	m := sink.recs[1]
	assert.Equal(t, uint64(2), m.Index)
	assert.Equal(t, "fixup loaded", m.OutputsText(), "message replaces empty payload")
	assert.Zero(t, m.Duration())

	assert.ElementsMatch(t, []uint32{42, 43}, shared.Targets())
	assert.Equal(t, "NoTrace enable=true process=true", c.Status())

	require.True(t, strings.HasPrefix(src.session, LiveSessionPrefix))
	_, err := uuid.Parse(strings.TrimPrefix(src.session, LiveSessionPrefix))
	assert.NoError(t, err)
	assert.Equal(t, c.Session(), src.session)
}

func TestLiveCollectorUnavailable(t *testing.T) {
	c := NewLiveCollector(monitor.NewShared(), &liveScript{err: ErrSourceUnavailable})
	assert.Equal(t, LiveProviderName, c.Name())
	err := c.Run(context.Background(), &fakeSink{})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, "NoTrace enable=false process=false", c.Status())
}

func TestLiveCollectorStopsOnSharedStop(t *testing.T) {
	shared := monitor.NewShared()
	shared.Stop()
	src := &liveScript{events: []LiveEvent{&fakeLiveEvent{pid: 1, props: props{"Operation": "x"}}}}
	sink := &fakeSink{}
	require.NoError(t, NewLiveCollector(shared, src).Run(context.Background(), sink))
	assert.Empty(t, sink.recs)
}
