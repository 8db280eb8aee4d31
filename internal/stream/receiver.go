// Package stream consumes the device's push channel. A Receiver polls the
// stream socket on its own goroutine and emits every non-empty datagram; a
// bounded Queue decouples it from a Dispatcher that hands packets to Sinks.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// Defaults for a zero-valued Receiver.
const (
	DefaultMaxDatagram = 8192
	DefaultBackoff     = 100 * time.Millisecond
	DefaultPollWait    = 250 * time.Millisecond
)

// Source is the polling half of *transport.StreamChannel.
type Source interface {
	Poll(ctx context.Context, maxSize int, wait time.Duration) (transport.Datagram, error)
}

// Sleeper pauses between empty polls. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Receiver is the stream loop. Zero fields take the package defaults.
type Receiver struct {
	Source      Source
	Port        int // stamped on packets and events
	MaxDatagram int
	Backoff     time.Duration
	Wait        time.Duration
	Sleeper     Sleeper
	Logger      zerolog.Logger

	seq        atomic.Uint64
	packets    atomic.Int64
	bytes      atomic.Int64
	emptyPolls atomic.Int64
	truncated  atomic.Int64
	running    atomic.Bool
}

// Run polls until ctx is cancelled or the source fails. Empty polls back
// off and retry; they never end the loop. Oversized datagrams are counted
// and skipped. Cancellation returns nil.
func (r *Receiver) Run(ctx context.Context, emit func(Packet)) error {
	maxSize := r.MaxDatagram
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagram
	}
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	wait := r.Wait
	if wait <= 0 {
		wait = DefaultPollWait
	}
	sleep := r.Sleeper
	if sleep == nil {
		sleep = SleepContext
	}

	r.running.Store(true)
	defer r.running.Store(false)

	for {
		if ctx.Err() != nil {
			return nil
		}
		dg, err := r.Source.Poll(ctx, maxSize, wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrTruncated) {
				r.truncated.Add(1)
				r.Logger.Warn().Int("max", maxSize).Msg("stream datagram truncated, dropped")
				continue
			}
			return err
		}
		if len(dg.Data) == 0 {
			r.emptyPolls.Add(1)
			if sleep(ctx, backoff) != nil {
				return nil
			}
			continue
		}

		r.packets.Add(1)
		r.bytes.Add(int64(len(dg.Data)))
		emit(Packet{
			Seq:        r.seq.Add(1),
			Port:       r.Port,
			Size:       len(dg.Data),
			Data:       dg.Data,
			From:       dg.From,
			ReceivedAt: time.Now(),
		})
	}
}

// Stats returns the receiver counters. Dropped and SinkErrors are filled in
// by the queue and dispatcher owners.
func (r *Receiver) Stats() protocol.StreamStatus {
	return protocol.StreamStatus{
		Port:       r.Port,
		Running:    r.running.Load(),
		Packets:    r.packets.Load(),
		Bytes:      r.bytes.Load(),
		EmptyPolls: r.emptyPolls.Load(),
		Truncated:  r.truncated.Load(),
	}
}

// Handle controls a loop started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start runs r on its own goroutine.
func (r *Receiver) Start(ctx context.Context, emit func(Packet)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		err := r.Run(ctx, emit)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		if err != nil {
			r.Logger.Error().Err(err).Msg("stream receiver stopped")
		}
	}()
	return h
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error that ended the loop, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
