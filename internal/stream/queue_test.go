package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 1; i <= 3; i++ {
		assert.False(t, q.Push(Packet{Seq: uint64(i)}))
	}
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		p, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, uint64(i), p.Seq)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 5; i++ {
		q.Push(Packet{Seq: uint64(i)})
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, int64(2), q.Dropped())

	var seqs []uint64
	for {
		p, ok := q.TryPop()
		if !ok {
			break
		}
		seqs = append(seqs, p.Seq)
	}
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestQueuePopBlocks(t *testing.T) {
	q := NewQueue(2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(Packet{Seq: 7})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), p.Seq)
}

func TestQueuePopCancelled(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueMinimumSize(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Cap())
	q.Push(Packet{Seq: 1})
	assert.True(t, q.Push(Packet{Seq: 2}))
	p, _ := q.TryPop()
	assert.Equal(t, uint64(2), p.Seq)
}
