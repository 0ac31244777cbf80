package zpipe

// awaitState is the readiness of one side of the pipe.
type awaitState uint8

const (
	awaitIdle      awaitState = iota // not ready, nobody parked
	awaitWaiting                     // not ready, continuation parked
	awaitSignalled                   // ready; the next wait returns at once
)

// awaiter tracks readiness, the parked continuation and pending cancellation
// for one async operation slot. All methods run under the pipe lock; the
// continuations they return are scheduled after the lock is released.
type awaiter struct {
	continuation func()
	// detach stops the context watcher attached to the parked operation.
	detach          func() bool
	gen             uint64
	state           awaitState
	cancelRequested bool
	// cancelOnly is set when cancellation, not the other side, signalled.
	cancelOnly bool
}

func newAwaiter(signalled bool) awaiter {
	if signalled {
		return awaiter{state: awaitSignalled}
	}
	return awaiter{state: awaitIdle}
}

func (a *awaiter) isSignalled() bool {
	return a.state == awaitSignalled
}

func (a *awaiter) hasContinuation() bool {
	return a.state == awaitWaiting
}

// reset makes the awaiter not ready again, unless a cancellation is still
// waiting to be observed.
func (a *awaiter) reset() {
	if a.state == awaitSignalled && !a.cancelRequested {
		a.state = awaitIdle
		a.cancelOnly = false
	}
}

// complete signals the awaiter and hands back the parked continuation.
func (a *awaiter) complete() func() {
	cont := a.continuation
	a.continuation = nil
	a.state = awaitSignalled
	a.cancelOnly = false
	return cont
}

// park stores the continuation to run when the awaiter is signalled. It
// reports false if another continuation is already parked. If the awaiter is
// already signalled the continuation is returned for immediate scheduling.
func (a *awaiter) park(cont func(), detach func() bool) (run func(), ok bool) {
	switch a.state {
	case awaitSignalled:
		return cont, true
	case awaitWaiting:
		return nil, false
	}
	a.gen++
	a.state = awaitWaiting
	a.continuation = cont
	a.detach = detach
	return nil, true
}

// generation identifies the most recent park.
func (a *awaiter) generation() uint64 {
	return a.gen
}

// cancelParked cancels only if the continuation parked as gen is still
// waiting. A context that fires after its operation finished is ignored.
func (a *awaiter) cancelParked(gen uint64) func() {
	if a.state != awaitWaiting || a.gen != gen {
		return nil
	}
	return a.cancel()
}

// cancel signals the awaiter in the cancelled state.
func (a *awaiter) cancel() func() {
	wasSignalled := a.state == awaitSignalled
	a.cancelRequested = true
	cont := a.complete()
	a.cancelOnly = !wasSignalled
	return cont
}

// observeCancellation consumes a pending cancellation and detaches any
// context watcher.
func (a *awaiter) observeCancellation() bool {
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
	if !a.cancelRequested {
		return false
	}
	a.cancelRequested = false
	return true
}

// operationState guards against reentrant reads and writes.
type operationState uint8

const (
	operationNone      operationState = iota
	operationTentative                // started, but ending it is optional
	operationActive                   // started, must be ended before starting again
)

func (s *operationState) begin(op, detail string) error {
	if *s == operationActive {
		return invalidState(op, "%s", detail)
	}
	*s = operationActive
	return nil
}

func (s *operationState) beginTentative(op, detail string) error {
	if *s == operationActive {
		return invalidState(op, "%s", detail)
	}
	*s = operationTentative
	return nil
}

func (s *operationState) end(op, detail string) error {
	if *s == operationNone {
		return invalidState(op, "%s", detail)
	}
	*s = operationNone
	return nil
}

func (s operationState) isStarted() bool {
	return s != operationNone
}

func (s operationState) isActive() bool {
	return s == operationActive
}

// completion records that one side of the pipe finished, with an optional
// fault, and holds the callbacks waiting for that moment.
type completion struct {
	err       error
	callbacks []func(error)
	completed bool
}

// tryComplete marks the side completed. It returns the callbacks to run, or
// nil if the side was already completed. The first fault wins.
func (c *completion) tryComplete(err error) []func(error) {
	if c.completed {
		return nil
	}
	c.completed = true
	c.err = err
	cbs := c.callbacks
	c.callbacks = nil
	if cbs == nil {
		cbs = []func(error){}
	}
	return cbs
}

// addCallback registers cb. If the side already completed, cb is returned
// for immediate scheduling instead.
func (c *completion) addCallback(cb func(error)) []func(error) {
	if c.completed {
		return []func(error){cb}
	}
	c.callbacks = append(c.callbacks, cb)
	return nil
}

func (c *completion) reset() {
	c.completed = false
	c.err = nil
	c.callbacks = nil
}
