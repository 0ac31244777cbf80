package zpipe

// Scheduler decides where a woken continuation runs. The pipe never calls a
// scheduler while holding its lock.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts an ordinary function to the Scheduler interface.
type SchedulerFunc func(fn func())

// Schedule calls f(fn).
func (f SchedulerFunc) Schedule(fn func()) {
	f(fn)
}

type inlineScheduler struct{}

func (inlineScheduler) Schedule(fn func()) { fn() }

type goroutineScheduler struct{}

func (goroutineScheduler) Schedule(fn func()) { go fn() }

var (
	// Inline runs continuations synchronously on the goroutine that woke them.
	Inline Scheduler = inlineScheduler{}

	// Goroutine runs every continuation on a new goroutine, so one side's
	// continuations never run inside the other side's call stack.
	Goroutine Scheduler = goroutineScheduler{}
)

func trySchedule(s Scheduler, fn func()) {
	if fn != nil {
		s.Schedule(fn)
	}
}
