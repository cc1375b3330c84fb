package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeapRegisterAndShouldCollect(t *testing.T) {
	h := NewHeap(100)
	assert.False(t, h.ShouldCollect())

	h.Register(60)
	assert.False(t, h.ShouldCollect())

	h.Register(50)
	assert.True(t, h.ShouldCollect())
}

func TestHeapResetClearsAllocatedNotObjects(t *testing.T) {
	h := NewHeap(10)
	h.Register(20)
	assert.True(t, h.ShouldCollect())

	h.Reset()
	assert.False(t, h.ShouldCollect())
	assert.Equal(t, int64(1), h.Snapshot().LiveObjects)
}

func TestNewHeapDefaultsThreshold(t *testing.T) {
	h := NewHeap(0)
	assert.Equal(t, DefaultThreshold, h.threshold)
}

func TestNilHeapIsNoop(t *testing.T) {
	var h *Heap
	h.Register(1000)
	assert.False(t, h.ShouldCollect())
	h.Reset()
	assert.Equal(t, Stats{}, h.Snapshot())
}

func TestSnapshotReportsAllocatedBytes(t *testing.T) {
	h := NewHeap(1000)
	h.Register(10)
	h.Register(20)
	snap := h.Snapshot()
	assert.Equal(t, int64(30), snap.AllocatedBytes)
	assert.Equal(t, int64(2), snap.LiveObjects)
}
