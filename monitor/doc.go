// Package monitor aggregates events from concurrent collectors into one
// ordered, filterable and searchable model.
//
// Collectors run on their own goroutines and push normalized records into a
// bounded endpoint each. A single aggregator goroutine drains every endpoint,
// folds registry control blocks into the correlation cache, resolves handle
// references in both directions, applies the filter and publishes an
// immutable snapshot for readers.
//
// Basic usage:
//
//	shared := monitor.NewShared()
//	e := monitor.NewEngine(shared, monitor.EngineOptions{})
//	e.Add(collector)
//	stop := e.Model().Subscribe(func(s *monitor.Snapshot) {
//	    fmt.Println(s.Counters)
//	})
//	defer stop()
//
//	if err := e.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Ordering is per collector only. Records of different sources appear in
// drain order, which is not a global timestamp order.
package monitor
