package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalQueuePushPopIsLIFO(t *testing.T) {
	q := newLocalQueue()
	global := newGlobalQueue()
	g1, g2 := &Goroutine{}, &Goroutine{}

	q.pushHead(g1, global)
	q.pushHead(g2, global)
	assert.Equal(t, 2, q.len())

	got, ok := q.popHead()
	require.True(t, ok)
	assert.Same(t, g2, got, "popHead is LIFO: the most recently pushed goroutine runs next")

	got, ok = q.popHead()
	require.True(t, ok)
	assert.Same(t, g1, got)

	_, ok = q.popHead()
	assert.False(t, ok)
}

func TestLocalQueueOverflowsToGlobalWhenFull(t *testing.T) {
	q := newLocalQueue()
	global := newGlobalQueue()
	for i := 0; i < ringSize; i++ {
		q.pushHead(&Goroutine{}, global)
	}
	assert.Equal(t, ringSize, q.len())
	assert.Equal(t, 0, global.length())

	overflow := &Goroutine{}
	q.pushHead(overflow, global)
	assert.Equal(t, 1, global.length())
}

func TestStealOneTakesFromTailFIFO(t *testing.T) {
	q := newLocalQueue()
	global := newGlobalQueue()
	g1, g2 := &Goroutine{}, &Goroutine{}
	q.pushHead(g1, global)
	q.pushHead(g2, global)

	stolen, ok := q.stealOne()
	require.True(t, ok)
	assert.Same(t, g1, stolen, "steal takes the oldest runnable entry (FIFO)")
	assert.Equal(t, 1, q.len())
}

func TestStealBatchTakesRoughlyHalf(t *testing.T) {
	q := newLocalQueue()
	global := newGlobalQueue()
	for i := 0; i < 4; i++ {
		q.pushHead(&Goroutine{}, global)
	}
	batch := q.stealBatch()
	assert.Len(t, batch, 2)
	assert.Equal(t, 2, q.len())
}

func TestStealOnEmptyQueueFails(t *testing.T) {
	q := newLocalQueue()
	_, ok := q.stealOne()
	assert.False(t, ok)
	assert.Nil(t, q.stealBatch())
}

func TestGlobalQueuePushPopIsFIFO(t *testing.T) {
	g := newGlobalQueue()
	g1, g2 := &Goroutine{}, &Goroutine{}
	g.push(g1)
	g.push(g2)

	got, ok := g.pop()
	require.True(t, ok)
	assert.Same(t, g1, got)
	assert.Equal(t, 1, g.length())
}

func TestGlobalQueuePushBatchAndPopBatch(t *testing.T) {
	g := newGlobalQueue()
	g.pushBatch([]*Goroutine{{}, {}, {}})
	assert.Equal(t, 3, g.length())

	batch := g.popBatch(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, g.length())

	// popBatch clamps to what's actually available.
	batch = g.popBatch(10)
	assert.Len(t, batch, 1)
	assert.Equal(t, 0, g.length())
}
