// Package gc is the allocator façade spec.md §2 and §4 describe as a GC
// hook surface: registration of heap allocations and a "should collect"
// query invoked at safe points. The precise marking algorithm is
// explicitly out of scope (spec.md §1) — Go's own garbage collector
// reclaims the language's heap values in this implementation, the same
// way the teacher repo relies on it for its own Instance/Array objects.
// This package only gives the VM a place to report allocation pressure
// and ask whether a collection-equivalent pause would be warranted, so a
// future collector has the hook points the spec requires without this
// core needing to implement one.
package gc

import "sync/atomic"

// Heap tracks allocation volume since the last ShouldCollect reset and
// answers safepoint queries about collection pressure. Nil-safe: every
// method on a nil *Heap is a no-op/false, so callers that never opt into
// GC bookkeeping (e.g. a one-shot `quill run` of a tiny program) pay
// nothing.
type Heap struct {
	allocated int64 // bytes registered since last ShouldCollect reset
	threshold int64
	objects   int64
}

// DefaultThreshold is the allocation volume (in the caller's own size
// units) after which ShouldCollect starts returning true.
const DefaultThreshold int64 = 1 << 20 // 1 MiB worth of registered sizes

// NewHeap creates a Heap with threshold, or DefaultThreshold if threshold <= 0.
func NewHeap(threshold int64) *Heap {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Heap{threshold: threshold}
}

// Register records one heap allocation of approximately size bytes. The
// VM calls this from the array, map, struct and class-instance allocation
// opcodes; closures, ranges, strings and channels are not registered.
func (h *Heap) Register(size int64) {
	if h == nil {
		return
	}
	atomic.AddInt64(&h.allocated, size)
	atomic.AddInt64(&h.objects, 1)
}

// ShouldCollect reports whether registered allocations have crossed the
// heap's threshold since the last reset. VM.Run checks this before every
// instruction and, when it reports true, only calls Reset: no collector
// is invoked, so the query is advisory/observable. VM.Resume (the
// scheduler's goroutine loop) does not check it.
func (h *Heap) ShouldCollect() bool {
	if h == nil {
		return false
	}
	return atomic.LoadInt64(&h.allocated) >= h.threshold
}

// Reset zeroes the allocation counter, as a collector (or a caller that
// just wants to silence ShouldCollect) would do after reclaiming memory.
func (h *Heap) Reset() {
	if h == nil {
		return
	}
	atomic.StoreInt64(&h.allocated, 0)
}

// Stats is a point-in-time snapshot for diagnostics (e.g. a future
// `quill run --gc-stats` flag, or test assertions).
type Stats struct {
	AllocatedBytes int64
	LiveObjects    int64
}

// Snapshot returns the heap's current counters.
func (h *Heap) Snapshot() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		AllocatedBytes: atomic.LoadInt64(&h.allocated),
		LiveObjects:    atomic.LoadInt64(&h.objects),
	}
}
