package monitor

import (
	"context"
	"sync/atomic"
)

// DefaultEndpointCapacity is the queue length of one collector endpoint.
const DefaultEndpointCapacity = 4096

// Sink is the write side of an endpoint, given to a collector. Records
// passed to Emit belong to the model afterwards and must not be touched.
type Sink interface {
	Emit(ctx context.Context, r *Record) error
	EmitKCB(ctx context.Context, k KCB) error
}

type message struct {
	rec *Record
	kcb KCB
}

// Endpoint is a bounded queue from one collector to the aggregator. Sends
// block while the queue is full; a send never blocks other collectors since
// every collector owns its endpoint.
type Endpoint struct {
	name string
	ch   chan message
	wake chan struct{}

	sent    atomic.Uint64
	stalled atomic.Uint64
}

func newEndpoint(name string, capacity int, wake chan struct{}) *Endpoint {
	if capacity <= 0 {
		capacity = DefaultEndpointCapacity
	}
	return &Endpoint{name: name, ch: make(chan message, capacity), wake: wake}
}

// Name of the collector that owns the endpoint.
func (e *Endpoint) Name() string { return e.name }

// Emit queues r.
func (e *Endpoint) Emit(ctx context.Context, r *Record) error {
	return e.send(ctx, message{rec: r})
}

// EmitKCB queues a control block binding.
func (e *Endpoint) EmitKCB(ctx context.Context, k KCB) error {
	return e.send(ctx, message{kcb: k})
}

func (e *Endpoint) send(ctx context.Context, m message) error {
	select {
	case e.ch <- m:
	default:
		e.stalled.Add(1)
		collog.SampledWarn("endpoint.full."+e.name).
			Str("collector", e.name).
			Int("capacity", cap(e.ch)).
			Msg("collector endpoint full, waiting for drain")
		e.poke()
		select {
		case e.ch <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.sent.Add(1)
	e.poke()
	return nil
}

func (e *Endpoint) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// receive moves up to max queued messages into b without blocking.
func (e *Endpoint) receive(b *Batch, max int) int {
	n := 0
	for n < max {
		select {
		case m := <-e.ch:
			if m.rec != nil {
				b.Records = append(b.Records, m.rec)
			} else {
				b.KCBs = append(b.KCBs, m.kcb)
			}
			n++
		default:
			return n
		}
	}
	return n
}

// Len is the number of queued messages.
func (e *Endpoint) Len() int { return len(e.ch) }

// Sent is the number of messages accepted so far.
func (e *Endpoint) Sent() uint64 { return e.sent.Load() }

// Stalled counts sends that found the queue full.
func (e *Endpoint) Stalled() uint64 { return e.stalled.Load() }
