package logsampler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sampler "github.com/tekert/psfmonitor/logsampler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock { return &stepClock{now: time.Unix(1_700_000_000, 0)} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries map[string]int64
}

func (r *recordingReporter) LogSummary(key string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summaries == nil {
		r.summaries = make(map[string]int64)
	}
	r.summaries[key] += n
}

func TestEventDrivenSampler(t *testing.T) {
	t.Run("LogsFirstAndSuppressesSecond", func(t *testing.T) {
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{InitialInterval: 100 * time.Millisecond}, nil)
		clk := newStepClock()
		s.SetClock(clk)

		ok, _ := s.ShouldLog("k", nil)
		require.True(t, ok, "first log should pass")
		ok, _ = s.ShouldLog("k", nil)
		assert.False(t, ok, "second log within window should be suppressed")
	})

	t.Run("ReportsSuppressedAfterWindow", func(t *testing.T) {
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{InitialInterval: 100 * time.Millisecond, Factor: 1}, nil)
		clk := newStepClock()
		s.SetClock(clk)

		s.ShouldLog("k", nil)
		for range 5 {
			s.ShouldLog("k", nil)
		}
		clk.Advance(110 * time.Millisecond)

		ok, suppressed := s.ShouldLog("k", nil)
		require.True(t, ok)
		assert.EqualValues(t, 5, suppressed)
	})

	t.Run("AppliesExponentialBackoff", func(t *testing.T) {
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     150 * time.Millisecond,
			Factor:          2,
		}, nil)
		clk := newStepClock()
		s.SetClock(clk)

		ok, _ := s.ShouldLog("k", nil)
		require.True(t, ok)

		clk.Advance(60 * time.Millisecond) // past 50ms, window grows to 100ms
		ok, _ = s.ShouldLog("k", nil)
		require.True(t, ok)

		clk.Advance(80 * time.Millisecond)
		ok, _ = s.ShouldLog("k", nil)
		assert.False(t, ok, "inside the 100ms window")

		clk.Advance(30 * time.Millisecond) // 110ms since last, window capped at 150ms
		ok, _ = s.ShouldLog("k", nil)
		require.True(t, ok)

		clk.Advance(140 * time.Millisecond)
		ok, _ = s.ShouldLog("k", nil)
		assert.False(t, ok, "inside the capped 150ms window")
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{InitialInterval: time.Second}, nil)
		s.SetClock(newStepClock())

		a, _ := s.ShouldLog("a", nil)
		b, _ := s.ShouldLog("b", nil)
		assert.True(t, a)
		assert.True(t, b)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("EvictsStaleKeysAndReportsThem", func(t *testing.T) {
		rep := &recordingReporter{}
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{
			InitialInterval: 10 * time.Millisecond,
			ResetInterval:   time.Second,
		}, rep)
		clk := newStepClock()
		s.SetClock(clk)

		s.ShouldLog("old", nil)
		s.ShouldLog("old", nil)
		s.ShouldLog("old", nil)

		clk.Advance(2 * time.Second)
		s.ShouldLog("new", nil)

		assert.Equal(t, 1, s.Len())
		assert.EqualValues(t, 2, rep.summaries["old"])
	})

	t.Run("FlushReportsAndForgets", func(t *testing.T) {
		rep := &recordingReporter{}
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{InitialInterval: time.Minute}, rep)
		s.SetClock(newStepClock())

		s.ShouldLog("k", nil)
		s.ShouldLog("k", nil)
		s.Flush()

		assert.EqualValues(t, 1, rep.summaries["k"])
		assert.Equal(t, 0, s.Len())
		ok, _ := s.ShouldLog("k", nil)
		assert.True(t, ok, "a flushed key starts over")
	})

	t.Run("ConcurrentUse", func(t *testing.T) {
		s := sampler.NewEventDrivenSampler(sampler.BackoffConfig{InitialInterval: time.Hour}, nil)
		var wg sync.WaitGroup
		var mu sync.Mutex
		passed := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					if ok, _ := s.ShouldLog("hot", nil); ok {
						mu.Lock()
						passed++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, passed)
	})
}

func TestRateSampler(t *testing.T) {
	s := sampler.NewRateSampler(3, time.Hour)
	var got []bool
	for range 7 {
		ok, _ := s.ShouldLog("", nil)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{true, false, false, true, false, false, true}, got)

	// The fourth emitted line carries the two suppressed since the previous one.
	s2 := sampler.NewRateSampler(3, time.Hour)
	s2.ShouldLog("", nil)
	s2.ShouldLog("", nil)
	s2.ShouldLog("", nil)
	ok, suppressed := s2.ShouldLog("", nil)
	require.True(t, ok)
	assert.EqualValues(t, 2, suppressed)
}
