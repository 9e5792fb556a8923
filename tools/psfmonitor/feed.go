package main

import "github.com/tekert/psfmonitor/monitor"

// snapshotFeed hands the newest model snapshot to one reader without ever
// blocking the publisher. Older undelivered snapshots are replaced.
type snapshotFeed struct {
	c           chan *monitor.Snapshot
	unsubscribe func()
}

func newSnapshotFeed(model *monitor.Model) *snapshotFeed {
	f := &snapshotFeed{c: make(chan *monitor.Snapshot, 1)}
	f.unsubscribe = model.Subscribe(f.put)
	return f
}

func (f *snapshotFeed) put(s *monitor.Snapshot) {
	for {
		select {
		case f.c <- s:
			return
		default:
		}
		select {
		case <-f.c:
		default:
		}
	}
}

// C delivers snapshots. Deliveries may be stale; compare Seq.
func (f *snapshotFeed) C() <-chan *monitor.Snapshot { return f.c }

func (f *snapshotFeed) Close() { f.unsubscribe() }
