package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Sink consumes stream packets. Handle is called from the dispatcher
// goroutine only, one packet at a time.
type Sink interface {
	Handle(ctx context.Context, p Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Packet) error

func (f SinkFunc) Handle(ctx context.Context, p Packet) error { return f(ctx, p) }

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher drains a Queue and hands each packet to every sink in
// registration order. A failing sink is logged and counted; it never stops
// delivery to the others.
type Dispatcher struct {
	queue  *Queue
	logger zerolog.Logger

	mu    sync.RWMutex
	sinks []namedSink

	delivered  atomic.Int64
	sinkErrors atomic.Int64
}

// NewDispatcher creates a dispatcher reading from q.
func NewDispatcher(q *Queue, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  q,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// AddSink registers a sink under a name used in logs.
func (d *Dispatcher) AddSink(name string, s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
	d.mu.Unlock()
}

// Sinks returns the registered sink names.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.name
	}
	return names
}

// Run delivers packets until ctx is done. Packets still queued at
// cancellation are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		p, err := d.queue.Pop(ctx)
		if err != nil {
			return
		}
		d.deliver(ctx, p)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, p Packet) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Handle(ctx, p); err != nil {
			d.sinkErrors.Add(1)
			d.logger.Warn().
				Err(err).
				Str("sink", s.name).
				Uint64("seq", p.Seq).
				Msg("sink failed")
		}
	}
	d.delivered.Add(1)
}

// Delivered returns the number of packets handed to the sinks.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// SinkErrors returns the number of failed sink calls.
func (d *Dispatcher) SinkErrors() int64 { return d.sinkErrors.Load() }
