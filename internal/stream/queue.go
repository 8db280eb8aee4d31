package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO of packets. When full, Push evicts the oldest
// packet so the receiver never blocks on a slow consumer.
type Queue struct {
	mu    sync.Mutex
	ring  []Packet
	head  int
	count int
	ready chan struct{} // signalled (non-blocking) on every push

	dropped atomic.Int64
}

// NewQueue creates a queue holding at most size packets (minimum 1).
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ring:  make([]Packet, size),
		ready: make(chan struct{}, 1),
	}
}

// Push appends p, evicting the oldest packet when the queue is full.
// It reports whether a packet was evicted.
func (q *Queue) Push(p Packet) bool {
	q.mu.Lock()
	evicted := false
	if q.count == len(q.ring) {
		q.ring[q.head] = Packet{}
		q.head = (q.head + 1) % len(q.ring)
		q.count--
		evicted = true
	}
	q.ring[(q.head+q.count)%len(q.ring)] = p
	q.count++
	q.mu.Unlock()

	if evicted {
		q.dropped.Add(1)
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// TryPop removes and returns the oldest packet without blocking.
func (q *Queue) TryPop() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Packet{}, false
	}
	p := q.ring[q.head]
	q.ring[q.head] = Packet{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return p, true
}

// Pop blocks until a packet is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Packet, error) {
	for {
		if p, ok := q.TryPop(); ok {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.ring) }

// Dropped returns how many packets were evicted by overflow.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
