package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (c *collectSink) Handle(_ context.Context, p Packet) error {
	c.mu.Lock()
	c.seqs = append(c.seqs, p.Seq)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) got() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func TestDispatcherFansOut(t *testing.T) {
	q := NewQueue(16)
	d := NewDispatcher(q, zerolog.Nop())

	a, b := &collectSink{}, &collectSink{}
	d.AddSink("a", a)
	d.AddSink("failing", SinkFunc(func(context.Context, Packet) error {
		return errors.New("boom")
	}))
	d.AddSink("b", b)
	assert.Equal(t, []string{"a", "failing", "b"}, d.Sinks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		q.Push(Packet{Seq: uint64(i)})
	}

	require.Eventually(t, func() bool { return d.Delivered() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, a.got())
	assert.Equal(t, []uint64{1, 2, 3}, b.got())
	assert.Equal(t, int64(3), d.SinkErrors())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
