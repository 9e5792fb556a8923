package main

import (
	"context"
	"io"

	"github.com/goccy/go-json"

	"github.com/tekert/psfmonitor/monitor"
)

// recordLine is one JSON line of headless output.
type recordLine struct {
	*monitor.Record
	ProcessName string `json:"processName"`
	Inputs      string `json:"inputs,omitempty"`
	Outputs     string `json:"outputs,omitempty"`
	Duration    int64  `json:"durationNs,omitempty"`
}

func newRecordLine(r *monitor.Record) recordLine {
	return recordLine{
		Record:      r,
		ProcessName: r.DisplayProcessName(),
		Inputs:      r.InputsText(),
		Outputs:     r.OutputsText(),
		Duration:    int64(r.Duration()),
	}
}

// lineWriter prints each visible record once. Records carry a model
// sequence number that only grows, so the writer keeps the highest one it
// has printed and skips everything at or below it.
type lineWriter struct {
	enc  *json.Encoder
	last uint64 // highest record Seq written
	seq  uint64 // last snapshot Seq seen
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

// write emits the view records of s not written yet. Stale snapshots are
// dropped.
func (lw *lineWriter) write(s *monitor.Snapshot) error {
	if s == nil || (lw.seq != 0 && s.Seq <= lw.seq) {
		return nil
	}
	lw.seq = s.Seq
	for _, r := range s.View {
		if r.Seq <= lw.last {
			continue
		}
		if err := lw.enc.Encode(newRecordLine(r)); err != nil {
			return err
		}
		lw.last = r.Seq
	}
	return nil
}

// runHeadless runs the engine and writes every visible record as a JSON
// line until ctx is done.
func runHeadless(ctx context.Context, eng *monitor.Engine, out io.Writer) error {
	feed := newSnapshotFeed(eng.Model())
	defer feed.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	lw := newLineWriter(out)
	for {
		select {
		case s := <-feed.C():
			if err := lw.write(s); err != nil {
				eng.Stop()
				<-runErr
				return err
			}
		case err := <-runErr:
			// the final drain may have published after the last receive
			if err2 := lw.write(eng.Model().Snapshot()); err2 != nil && err == nil {
				err = err2
			}
			return err
		}
	}
}
