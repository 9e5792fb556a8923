package monitor

import (
	"os"
	"sync"
	"sync/atomic"
)

// DefaultProcessTableSize bounds the pid to image name table.
const DefaultProcessTableSize = 8192

// Shared is the state every collector receives at construction. The engine
// writes the configuration half (stop signal, filter pid, pause, captured
// count); collectors only read it. Collectors write the observation half
// (target pids, process names).
type Shared struct {
	stop     chan struct{}
	stopOnce sync.Once

	filterPID atomic.Int64
	paused    atomic.Bool
	captured  atomic.Int64
	selfPID   uint32

	targetMu sync.RWMutex
	targets  map[uint32]struct{}

	namesMu  sync.RWMutex
	names    map[uint32]string
	namesCap int
}

// NewShared creates the shared context with no target pids and no filter.
func NewShared() *Shared {
	s := &Shared{
		stop:     make(chan struct{}),
		selfPID:  uint32(os.Getpid()),
		targets:  make(map[uint32]struct{}),
		names:    make(map[uint32]string),
		namesCap: DefaultProcessTableSize,
	}
	s.filterPID.Store(NoPID)
	return s
}

// Done is closed when collection must stop.
func (s *Shared) Done() <-chan struct{} { return s.stop }

// Stopped reports whether the stop signal was raised.
func (s *Shared) Stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Stop raises the stop signal. It is safe to call more than once.
func (s *Shared) Stop() { s.stopOnce.Do(func() { close(s.stop) }) }

// SelfPID is the pid of this process; its own events are never captured.
func (s *Shared) SelfPID() uint32 { return s.selfPID }

// FilterPID is the active process filter or NoPID.
func (s *Shared) FilterPID() int { return int(s.filterPID.Load()) }

// SetFilterPID is written by the engine when the filter changes.
func (s *Shared) SetFilterPID(pid int) { s.filterPID.Store(int64(pid)) }

// Paused reports the pause toggle.
func (s *Shared) Paused() bool { return s.paused.Load() }

// SetPaused is written by the engine.
func (s *Shared) SetPaused(p bool) { s.paused.Store(p) }

// Captured is the size of the authoritative sequence after the last drain.
func (s *Shared) Captured() int { return int(s.captured.Load()) }

// SetCaptured is written by the engine after each drain.
func (s *Shared) SetCaptured(n int) { s.captured.Store(int64(n)) }

// AddTarget adds pid to the allow-list that scopes kernel capture.
// It reports whether pid is new.
func (s *Shared) AddTarget(pid uint32) bool {
	s.targetMu.RLock()
	_, ok := s.targets[pid]
	s.targetMu.RUnlock()
	if ok {
		return false
	}
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	if _, ok := s.targets[pid]; ok {
		return false
	}
	s.targets[pid] = struct{}{}
	return true
}

// SetTargets replaces the allow-list. An empty list disables the gate.
func (s *Shared) SetTargets(pids ...uint32) {
	m := make(map[uint32]struct{}, len(pids))
	for _, p := range pids {
		m[p] = struct{}{}
	}
	s.targetMu.Lock()
	s.targets = m
	s.targetMu.Unlock()
}

// Targets returns a copy of the allow-list.
func (s *Shared) Targets() []uint32 {
	s.targetMu.RLock()
	defer s.targetMu.RUnlock()
	out := make([]uint32, 0, len(s.targets))
	for p := range s.targets {
		out = append(out, p)
	}
	return out
}

// Admits reports whether events of pid pass the allow-list gate: the list
// is empty or contains pid, and pid is not this process.
func (s *Shared) Admits(pid uint32) bool {
	if pid == s.selfPID {
		return false
	}
	s.targetMu.RLock()
	defer s.targetMu.RUnlock()
	if len(s.targets) == 0 {
		return true
	}
	_, ok := s.targets[pid]
	return ok
}

// SetProcessName records the image name of pid. The table stops growing when
// full; later names for known pids still replace earlier ones because pids
// are reused after a process exits.
func (s *Shared) SetProcessName(pid uint32, name string) {
	if name == "" {
		return
	}
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	if _, ok := s.names[pid]; !ok && len(s.names) >= s.namesCap {
		return
	}
	s.names[pid] = name
}

// ProcessName returns the recorded image name of pid, or "".
func (s *Shared) ProcessName(pid uint32) string {
	s.namesMu.RLock()
	defer s.namesMu.RUnlock()
	return s.names[pid]
}
