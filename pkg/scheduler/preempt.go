package scheduler

import "time"

// defaultBudget is the bounded instruction budget a worker grants a
// goroutine per scheduling turn (spec.md §4.4).
const defaultBudget = 10000

// safepointInterval and timeSlice implement the time-based half of
// cooperative preemption described in spec.md §4.4: every
// safepointInterval instructions, compare elapsed wall-clock time against
// timeSlice and yield early if it's been exceeded. This catches a
// goroutine that's still well under its instruction budget but has been
// running long enough (e.g. instructions that each do real work, like
// string building) that fairness calls for a turn change anyway.
const (
	safepointInterval = 1000
	timeSlice         = 10 * time.Millisecond
)

// preemptTracker records a goroutine's turn start time so the worker loop
// can slice defaultBudget into safepointInterval-sized chunks and bail
// early on a time-slice overrun, rather than always running the full
// instruction budget in one Resume call.
type preemptTracker struct {
	turnStart time.Time
}

func (t *preemptTracker) startTurn() { t.turnStart = time.Now() }

func (t *preemptTracker) shouldPreempt() bool {
	return time.Since(t.turnStart) > timeSlice
}
