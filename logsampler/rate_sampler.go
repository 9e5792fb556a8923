package logsampler

import (
	"sync/atomic"
	"time"
)

// RateSampler lets one event in every rate through per window, regardless of
// key. It is meant for a single very hot call site.
type RateSampler struct {
	rate       int64
	window     int64
	clock      Clock
	count      atomic.Int64
	suppressed atomic.Int64
	last       atomic.Int64
}

// NewRateSampler creates a rate sampler. A rate below 1 is treated as 1.
func NewRateSampler(rate int, window time.Duration) *RateSampler {
	if rate < 1 {
		rate = 1
	}
	s := &RateSampler{
		rate:   int64(rate),
		window: int64(window),
		clock:  systemClock{},
	}
	s.last.Store(s.clock.Now().UnixNano())
	return s
}

// ShouldLog implements Sampler. The counter restarts every window.
func (s *RateSampler) ShouldLog(_ string, _ error) (bool, int64) {
	now := s.clock.Now().UnixNano()
	if last := s.last.Load(); s.window > 0 && now-last > s.window {
		if s.last.CompareAndSwap(last, now) {
			s.count.Store(0)
		}
	}
	if (s.count.Add(1)-1)%s.rate == 0 {
		return true, s.suppressed.Swap(0)
	}
	s.suppressed.Add(1)
	return false, 0
}

// Flush is a no-op; suppressed counts are reported on the next emitted event.
func (s *RateSampler) Flush() {}

// Close is a no-op.
func (s *RateSampler) Close() {}
