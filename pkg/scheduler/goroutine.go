package scheduler

import (
	"github.com/google/uuid"

	"github.com/quilllang/quill/pkg/vm"
)

// gstate is a goroutine's scheduling state.
type gstate int32

const (
	gRunnable gstate = iota
	gRunning
	gBlocked
	gDead
)

// Goroutine is one schedulable unit of work: its own VM instance (value
// stack, call-frame stack, ip) primed to execute a single function call,
// plus the bookkeeping the scheduler needs to round-robin it across
// instruction budgets.
type Goroutine struct {
	ID    uuid.UUID
	vm    *vm.VM
	state gstate

	// homeProcessor is the deterministic fallback target (spec.md §4.4's
	// spawn policy) when no processor is idle at spawn time, hashed from
	// ID so repeated spawns spread evenly without coordination.
	homeProcessor int

	result interface{}
	err    error

	tracker preemptTracker
}

func newGoroutine(v *vm.VM, homeProcessor int) *Goroutine {
	return &Goroutine{ID: uuid.New(), vm: v, state: gRunnable, homeProcessor: homeProcessor}
}

// homeIndex hashes a goroutine id onto one of n processors for the spawn
// policy's deterministic-home fallback.
func homeIndex(id uuid.UUID, n int) int {
	if n <= 0 {
		return 0
	}
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return int(h % uint32(n))
}
