package monitor

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Batch is what one drain cycle moves into the model: control block bindings
// first, then records in the order their collectors emitted them.
type Batch struct {
	KCBs    []KCB
	Records []*Record
}

// Empty reports whether the batch carries nothing.
func (b *Batch) Empty() bool { return len(b.KCBs) == 0 && len(b.Records) == 0 }

// DrainResult summarizes one drain.
type DrainResult struct {
	Appended     int
	KCBsAccepted int
	Backfilled   int // older records resolved by new control blocks
	Resolved     int // new records resolved from the cache on arrival
}

// Counters are the aggregate numbers shown next to the view.
type Counters struct {
	Captured      int `json:"captured"`
	Visible       int `json:"visible"`
	ControlBlocks int `json:"controlBlocks"`
}

// String is "<visible> of <captured> Events  Kernel KCBs=<n>".
func (c Counters) String() string {
	return strconv.Itoa(c.Visible) + " of " + strconv.Itoa(c.Captured) +
		" Events  Kernel KCBs=" + strconv.Itoa(c.ControlBlocks)
}

// Snapshot is a published, read-only state of the model. View and the
// records it points to are never modified after publication; the model
// replaces records instead of mutating published ones.
type Snapshot struct {
	Seq      uint64       `json:"seq"`
	View     []*Record    `json:"-"`
	Counters Counters     `json:"counters"`
	Search   SearchResult `json:"search"`
	Filter   FilterConfig `json:"-"`
}

// Model is the authoritative, append-only sequence of drained records and
// its filtered view. All mutations are serialized; readers use snapshots.
type Model struct {
	mu      sync.Mutex
	records []*Record
	view    []*Record
	// fresh marks records appended since the last publication. They are
	// still private to the model and may be mutated in place.
	fresh   int
	pending map[uint64][]int // unresolved handle -> positions in records
	cache   *ControlBlockCache
	filter  FilterConfig
	search  SearchCursor
	seq     uint64
	total   uint64 // last record Seq handed out
	metrics *Metrics

	snap atomic.Pointer[Snapshot]

	subMu  sync.Mutex
	subs   map[int]func(*Snapshot)
	nextID int
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithControlBlockCache shares cache with the model.
func WithControlBlockCache(cache *ControlBlockCache) ModelOption {
	return func(m *Model) { m.cache = cache }
}

// WithFilter sets the initial filter.
func WithFilter(cfg FilterConfig) ModelOption {
	return func(m *Model) { m.filter = cfg }
}

// WithMetrics records drain metrics.
func WithMetrics(mt *Metrics) ModelOption {
	return func(m *Model) { m.metrics = mt }
}

// NewModel creates an empty model.
func NewModel(opts ...ModelOption) *Model {
	m := &Model{
		pending: make(map[uint64][]int),
		filter:  DefaultFilterConfig(),
		search:  newSearchCursor(),
		subs:    make(map[int]func(*Snapshot)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.cache == nil {
		m.cache = NewControlBlockCache(0)
	}
	m.mu.Lock()
	m.rebuildViewLocked()
	s := m.publishLocked()
	m.mu.Unlock()
	m.notify(s)
	return m
}

// ControlBlocks returns the correlation cache.
func (m *Model) ControlBlocks() *ControlBlockCache { return m.cache }

// Drain folds b into the model. Control blocks are accepted first and
// backfill older records; then every record is forward resolved, filtered,
// pause hidden if paused, and appended in batch order.
func (m *Model) Drain(b Batch) DrainResult {
	if b.Empty() {
		return DrainResult{}
	}
	res, s := m.drain(b)
	m.metrics.recordDrain(b.Records, res)
	m.notify(s)
	return res
}

func (m *Model) drain(b Batch) (res DrainResult, s *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rebuild := false
	for _, k := range b.KCBs {
		if !m.cache.Add(k.Handle, k.Name) {
			continue
		}
		res.KCBsAccepted++
		if n := m.backfillLocked(k.Handle, k.Name); n > 0 {
			res.Backfilled += n
			rebuild = true
		}
	}

	for _, r := range b.Records {
		if r == nil {
			continue
		}
		m.total++
		r.Seq = m.total
		r.Category = CategoryOf(r.Name)
		r.Class = ResultClassOf(r.Result)
		if r.Key.Unresolved() {
			if name, ok := m.cache.Lookup(r.Key.Handle); ok {
				r.Key.Resolved = name
				res.Resolved++
			} else {
				m.pending[r.Key.Handle] = append(m.pending[r.Key.Handle], len(m.records))
			}
		}
		m.filter.Apply(r)
		r.HiddenByPause = m.filter.Paused
		m.records = append(m.records, r)
		m.fresh++
		res.Appended++
		if !rebuild && !r.Hidden() {
			m.view = append(m.view, r)
		}
	}

	if rebuild {
		m.rebuildViewLocked()
	}
	return res, m.publishLocked()
}

// backfillLocked resolves every pending record that references handle.
func (m *Model) backfillLocked(handle uint64, name string) int {
	positions, ok := m.pending[handle]
	if !ok {
		return 0
	}
	delete(m.pending, handle)
	n := 0
	for _, i := range positions {
		r := m.writableLocked(i)
		if r.Resolve(handle, name) {
			n++
		}
	}
	return n
}

// writableLocked returns a record at position i that may be mutated,
// copying it first when it has already been published.
func (m *Model) writableLocked(i int) *Record {
	if i >= len(m.records)-m.fresh {
		return m.records[i]
	}
	cp := *m.records[i]
	m.records[i] = &cp
	return &cp
}

func (m *Model) rebuildViewLocked() {
	view := make([]*Record, 0, len(m.view)+64)
	for _, r := range m.records {
		if !r.Hidden() {
			view = append(view, r)
		}
	}
	m.view = view
}

// publishLocked stores a snapshot of the current state.
func (m *Model) publishLocked() *Snapshot {
	m.seq++
	m.fresh = 0
	s := &Snapshot{
		Seq:  m.seq,
		View: m.view[:len(m.view):len(m.view)],
		Counters: Counters{
			Captured:      len(m.records),
			Visible:       len(m.view),
			ControlBlocks: m.cache.Len(),
		},
		Search: m.search.Result(),
		Filter: m.filter,
	}
	m.snap.Store(s)
	return s
}

// Clear drops every record, the view and the search state. The control
// block cache is kept; it belongs to the kernel collection lifetime.
func (m *Model) Clear() {
	m.notify(m.clear())
}

func (m *Model) clear() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.view = nil
	m.fresh = 0
	m.pending = make(map[uint64][]int)
	m.search.Reset()
	return m.publishLocked()
}

// Filter returns the active filter.
func (m *Model) Filter() FilterConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// SetFilter re-applies cfg to every record. Pause changes follow the
// SetPaused rules.
func (m *Model) SetFilter(cfg FilterConfig) {
	m.updateFilter(func(c *FilterConfig) { *c = cfg })
}

// SetPaused changes the pause state. Pausing hides only records drained
// from now on; resuming reveals every pause-hidden record.
func (m *Model) SetPaused(paused bool) {
	m.updateFilter(func(c *FilterConfig) { c.Paused = paused })
}

// SetProcessFilter shows only pid, or every process with NoPID.
func (m *Model) SetProcessFilter(pid int) {
	m.updateFilter(func(c *FilterConfig) { c.PID = pid })
}

// AdoptProcessFilter sets the process filter to pid only if no process
// filter is active. It reports whether the filter changed.
func (m *Model) AdoptProcessFilter(pid int) bool {
	adopted := false
	m.updateFilter(func(c *FilterConfig) {
		if c.PID == NoPID {
			c.PID = pid
			adopted = true
		}
	})
	return adopted
}

func (m *Model) updateFilter(update func(*FilterConfig)) {
	m.notify(m.applyFilter(update))
}

func (m *Model) applyFilter(update func(*FilterConfig)) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasPaused := m.filter.Paused
	update(&m.filter)
	cfg := m.filter
	for i, r := range m.records {
		next := *r
		cfg.Apply(&next)
		if wasPaused && !cfg.Paused {
			next.HiddenByPause = false
		}
		if next.HiddenByResult != r.HiddenByResult ||
			next.HiddenByCategory != r.HiddenByCategory ||
			next.HiddenByPID != r.HiddenByPID ||
			next.HiddenByPause != r.HiddenByPause {
			w := m.writableLocked(i)
			w.HiddenByResult = next.HiddenByResult
			w.HiddenByCategory = next.HiddenByCategory
			w.HiddenByPID = next.HiddenByPID
			w.HiddenByPause = next.HiddenByPause
		}
	}
	m.rebuildViewLocked()
	return m.publishLocked()
}

// Search highlights every record matching query and moves the current
// match. With restart false and an unchanged query the current match moves
// to the next visible match, wrapping around.
func (m *Model) Search(query string, restart bool) SearchResult {
	res, s := m.find(query, restart)
	m.notify(s)
	return res
}

func (m *Model) find(query string, restart bool) (SearchResult, *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	res := m.search.next(m.records, query, restart, func(i int, hl, cur bool) {
		r := m.records[i]
		if r.Highlighted == hl && r.CurrentMatch == cur {
			return
		}
		w := m.writableLocked(i)
		w.Highlighted, w.CurrentMatch = hl, cur
		changed = true
	})
	if changed {
		m.rebuildViewLocked()
	}
	return res, m.publishLocked()
}

// FilteredView copies the visible records in order.
func (m *Model) FilteredView() []Record {
	s := m.Snapshot()
	out := make([]Record, len(s.View))
	for i, r := range s.View {
		out[i] = *r
	}
	return out
}

// Len is the number of records in the authoritative sequence.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Snapshot returns the latest published state.
func (m *Model) Snapshot() *Snapshot { return m.snap.Load() }

// Subscribe registers fn for every publication. fn runs outside the model
// lock on the goroutine that changed the model; deliveries from different
// goroutines can arrive out of order, compare Seq to drop stale ones.
// The returned function unsubscribes.
func (m *Model) Subscribe(fn func(*Snapshot)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Model) notify(s *Snapshot) {
	m.subMu.Lock()
	fns := make([]func(*Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
