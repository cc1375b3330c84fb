// Package scheduler implements the M:N goroutine scheduler spec.md §4.4
// describes: a fixed pool of processors, each bound to one worker thread,
// round-robining schedulable Quill goroutines through local SPMC ring
// queues, a global overflow queue, and work-stealing, with channels
// providing blocking/hand-off coordination between them.
//
// The teacher's VM has no `go func(){}()` of its own — pkg/vm.Spawner is
// exactly the hook point this package fills in.
package scheduler

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/value"
	"github.com/quilllang/quill/pkg/vm"
)

// Scheduler owns a fixed set of processors and the global overflow queue
// they share.
type Scheduler struct {
	chunk      *bytecode.Chunk
	processors []*processor
	global     *globalQueue

	stopping int32

	mu       sync.Mutex
	pending  int // live (non-dead) goroutine count
	idleCond *sync.Cond

	// eg joins the worker pool's lifecycle the way the teacher's own
	// server loops join their listener goroutines: one errgroup.Group
	// per Start/Stop cycle, built fresh each Start since a Group cannot
	// be reused after Wait returns.
	eg *errgroup.Group
}

// New creates a scheduler with processorCount processors bound to chunk.
// New uses processorCount as given; the driver substitutes
// runtime.NumCPU() for a count <= 0 before calling it (spec.md §4.4:
// "defaults to CPU count").
func New(chunk *bytecode.Chunk, processorCount int) *Scheduler {
	s := &Scheduler{chunk: chunk, global: newGlobalQueue()}
	s.idleCond = sync.NewCond(&s.mu)
	s.processors = make([]*processor, processorCount)
	for i := range s.processors {
		s.processors[i] = newProcessor(i, s)
	}
	return s
}

// Start launches one worker goroutine per processor under a fresh
// errgroup.Group, so a worker that panics into an error is observed by
// Stop rather than silently vanishing.
func (s *Scheduler) Start() {
	s.eg = &errgroup.Group{}
	for _, p := range s.processors {
		p := p
		s.eg.Go(func() error {
			p.run()
			return nil
		})
	}
}

// Stop signals every worker to exit once its current turn finishes and
// waits for them to return.
func (s *Scheduler) Stop() {
	atomic.StoreInt32(&s.stopping, 1)
	for _, p := range s.processors {
		p.wake()
	}
	_ = s.eg.Wait()
}

func (s *Scheduler) allDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == 0
}

// newVM builds a VM sharing this scheduler's chunk and, when the caller
// passes one along (every spawn after the first), its globals map by
// reference, and wires it back into this scheduler for further spawns
// and channel creation.
func (s *Scheduler) newVM(sharedGlobals map[string]interface{}) *vm.VM {
	v := vm.NewWithGlobals(s.chunk, sharedGlobals)
	v.SetSpawner(s)
	v.SetChannelFactory(func(capacity int) value.Channel { return NewChannel(capacity) })
	return v
}

// RunMain primes a fresh VM to call mainFn with no arguments, runs it to
// completion as goroutine zero, and blocks until every goroutine it
// (transitively) spawned has also finished. globals lets the caller carry
// over global variables a prior top-level run already assigned (the
// driver runs a program's top-level statements on its own VM before
// invoking main through the scheduler); pass nil to start fresh.
func (s *Scheduler) RunMain(mainFn interface{}, globals map[string]interface{}) (interface{}, error) {
	v := s.newVM(globals)
	if err := v.PrepareCall(mainFn, nil); err != nil {
		return nil, err
	}
	g := newGoroutine(v, 0)
	s.scheduleNew(g)

	s.Start()
	s.mu.Lock()
	for s.pending > 0 {
		s.idleCond.Wait()
	}
	s.mu.Unlock()
	s.Stop()

	return g.result, g.err
}

// Spawn implements vm.Spawner: it builds a fresh VM for the goroutine
// body, primes the call, and schedules it per spec.md §4.4's spawn
// policy. The new VM shares the spawning VM's globals map by reference
// (classes/top-level functions/global vars are visible to every
// goroutine), matching the "chunk is read-only after construction; shared
// freely" rule in spec.md §5 — globals are mutable but the language's
// data-race policy puts coordination on the programmer, not the runtime.
func (s *Scheduler) Spawn(fn interface{}, args []interface{}, globals map[string]interface{}) {
	v := s.newVM(globals)
	if err := v.PrepareCall(fn, args); err != nil {
		return
	}
	g := newGoroutine(v, 0)
	g.homeProcessor = homeIndex(g.ID, len(s.processors))
	s.scheduleNew(g)
}

// scheduleNew implements the spawn policy of spec.md §4.4: prefer an idle
// processor's local queue, else the deterministic home processor, else
// the global queue — then unpark a worker.
func (s *Scheduler) scheduleNew(g *Goroutine) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	for _, p := range s.processors {
		p.mu.Lock()
		idle := p.parked
		p.mu.Unlock()
		if idle {
			if old := p.setNext(g); old != nil {
				p.local.pushHead(old, s.global)
			}
			p.wake()
			return
		}
	}

	if len(s.processors) > 0 {
		home := s.processors[g.homeProcessor%len(s.processors)]
		home.local.pushHead(g, s.global)
		home.wake()
		return
	}

	s.global.push(g)
}

// finish marks g dead and wakes RunMain's waiter once every spawned
// goroutine has completed.
func (s *Scheduler) finish(g *Goroutine) {
	g.state = gDead
	s.mu.Lock()
	s.pending--
	done := s.pending == 0
	s.mu.Unlock()
	if done {
		s.idleCond.Broadcast()
	}
}
