package scheduler

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/quilllang/quill/pkg/vm"
)

// processor is one of the scheduler's fixed P logical processors, each
// bound to its own worker goroutine (the M in the usual G/M/P naming),
// with its own local run queue.
type processor struct {
	id    int
	local *localQueue
	next  atomic.Value // *Goroutine; single-slot override, checked first

	sched *Scheduler

	scheduleCount uint64 // seeds the pseudo-random steal victim pick

	mu     sync.Mutex
	cond   *sync.Cond
	parked bool
}

func newProcessor(id int, s *Scheduler) *processor {
	p := &processor{id: id, local: newLocalQueue(), sched: s}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// setNext installs g in the single-slot override, the highest-priority
// source in the worker loop (spec.md §4.4 step 1) — used for the common
// "immediately run what I just spawned/woke" case.
func (p *processor) setNext(g *Goroutine) *Goroutine {
	old, _ := p.next.Swap(g).(*Goroutine)
	return old
}

func (p *processor) takeNext() (*Goroutine, bool) {
	g, ok := p.next.Swap((*Goroutine)(nil)).(*Goroutine)
	if !ok || g == nil {
		return nil, false
	}
	return g, true
}

// wake unparks this processor's worker if it's sleeping.
func (p *processor) wake() {
	p.mu.Lock()
	if p.parked {
		p.parked = false
		p.cond.Signal()
	}
	p.mu.Unlock()
}

// run is the worker loop body: steps 1-5 of spec.md §4.4, looping until
// the scheduler signals shutdown.
func (p *processor) run() {
	for {
		if atomic.LoadInt32(&p.sched.stopping) != 0 && p.sched.allDone() {
			return
		}

		g, ok := p.takeNext()
		if !ok {
			g, ok = p.local.popHead()
		}
		if !ok {
			g, ok = p.sched.global.pop()
		}
		if !ok {
			g, ok = p.steal()
		}
		if !ok {
			p.park()
			continue
		}

		p.execute(g)
	}
}

// steal picks a pseudo-random starting processor (seeded by this
// processor's own schedule count, to avoid convoy effects where every
// idle processor targets the same victim) and tries two passes: first
// only victims with more than one runnable goroutine, then any non-empty
// victim, per spec.md §4.4.
func (p *processor) steal() (*Goroutine, bool) {
	n := len(p.sched.processors)
	if n <= 1 {
		return nil, false
	}
	start := int(p.scheduleCount+1) % n
	if n > 2 {
		start = rand.New(rand.NewSource(int64(p.scheduleCount + 1))).Intn(n)
	}

	for _, minLen := range []int{2, 1} {
		for i := 0; i < n; i++ {
			victim := p.sched.processors[(start+i)%n]
			if victim == p {
				continue
			}
			if victim.local.len() < minLen {
				continue
			}
			if g, ok := victim.local.stealOne(); ok {
				return g, true
			}
		}
	}
	return nil, false
}

func (p *processor) park() {
	p.mu.Lock()
	if atomic.LoadInt32(&p.sched.stopping) != 0 {
		p.mu.Unlock()
		return
	}
	p.parked = true
	for p.parked && atomic.LoadInt32(&p.sched.stopping) == 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// execute runs g for one or more instruction-budget turns, slicing the
// default budget into safepoint-interval chunks so a goroutine that's
// still well under its instruction allotment but has run long enough in
// wall-clock time still yields its turn (spec.md §4.4's time-slice check).
func (p *processor) execute(g *Goroutine) {
	p.scheduleCount++
	g.tracker.startTurn()

	remaining := defaultBudget
	for remaining > 0 {
		slice := safepointInterval
		if slice > remaining {
			slice = remaining
		}
		status, result, err := g.vm.Resume(slice)
		remaining -= slice

		if status == vm.StatusCompleted || status == vm.StatusError {
			g.result, g.err = result, err
			p.sched.finish(g)
			return
		}
		if g.tracker.shouldPreempt() {
			break
		}
	}

	// Yielded: push back onto this processor's local queue, overflowing
	// to the global queue if the ring is full.
	p.local.pushHead(g, p.sched.global)
}
