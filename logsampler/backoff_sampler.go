package logsampler

import (
	"container/list"
	"sync"
)

type keyState struct {
	key        string
	suppressed int64
	lastLog    int64 // unix nanos of the last emitted line
	window     int64 // active quiet window in nanos
	elem       *list.Element
}

// EventDrivenSampler is an exponential backoff sampler without background
// goroutines. Stale keys are evicted lazily from the least recently used end
// of an LRU list whenever ShouldLog runs.
type EventDrivenSampler struct {
	config   BackoffConfig
	reporter SummaryReporter
	clock    Clock

	mu   sync.Mutex
	keys map[string]*keyState
	lru  *list.List // front: most recently used
}

// NewEventDrivenSampler creates a sampler. reporter may be nil, in which case
// suppressed counts of evicted keys are dropped silently.
func NewEventDrivenSampler(config BackoffConfig, reporter SummaryReporter) *EventDrivenSampler {
	if config.Factor < 1 {
		config.Factor = 1
	}
	return &EventDrivenSampler{
		config:   config,
		reporter: reporter,
		clock:    systemClock{},
		keys:     make(map[string]*keyState, 64),
		lru:      list.New(),
	}
}

// SetClock replaces the time source.
func (s *EventDrivenSampler) SetClock(c Clock) {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

// ShouldLog implements Sampler.
func (s *EventDrivenSampler) ShouldLog(key string, _ error) (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixNano()
	s.evictStale(now)

	st, ok := s.keys[key]
	if !ok {
		st = &keyState{key: key, lastLog: now, window: int64(s.config.InitialInterval)}
		st.elem = s.lru.PushFront(st)
		s.keys[key] = st
		return true, 0
	}
	s.lru.MoveToFront(st.elem)

	elapsed := now - st.lastLog
	if s.config.ResetInterval > 0 && elapsed > int64(s.config.ResetInterval) {
		st.window = int64(s.config.InitialInterval)
		return s.emit(st, now, false)
	}
	if elapsed > st.window {
		return s.emit(st, now, true)
	}
	st.suppressed++
	return false, 0
}

// emit must be called with s.mu held.
func (s *EventDrivenSampler) emit(st *keyState, now int64, grow bool) (bool, int64) {
	suppressed := st.suppressed
	st.suppressed = 0
	st.lastLog = now
	if grow {
		next := int64(float64(st.window) * s.config.Factor)
		if limit := int64(s.config.MaxInterval); limit > 0 && next > limit {
			next = limit
		}
		st.window = next
	}
	return true, suppressed
}

// evictStale must be called with s.mu held.
func (s *EventDrivenSampler) evictStale(now int64) {
	if s.config.ResetInterval <= 0 {
		return
	}
	threshold := now - int64(s.config.ResetInterval)
	for e := s.lru.Back(); e != nil; e = s.lru.Back() {
		st := e.Value.(*keyState)
		if st.lastLog >= threshold {
			return
		}
		if st.suppressed > 0 && s.reporter != nil {
			s.reporter.LogSummary(st.key, st.suppressed)
		}
		s.lru.Remove(e)
		delete(s.keys, st.key)
	}
}

// Len returns the number of tracked keys.
func (s *EventDrivenSampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Flush reports every key with suppressed events and forgets all keys.
func (s *EventDrivenSampler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		st := e.Value.(*keyState)
		if st.suppressed > 0 && s.reporter != nil {
			s.reporter.LogSummary(st.key, st.suppressed)
		}
	}
	s.keys = make(map[string]*keyState, 64)
	s.lru.Init()
}

// Close is Flush.
func (s *EventDrivenSampler) Close() { s.Flush() }

var _ Sampler = (*EventDrivenSampler)(nil)
