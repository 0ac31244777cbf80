package zpipe

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// ReadResult is the outcome of a read.
type ReadResult struct {
	// Buffer holds every committed byte the reader has not consumed. It is
	// valid until the next AdvanceTo.
	Buffer Buffer

	// Cancelled is set when the read was woken by CancelPendingRead or by its
	// context rather than by data.
	Cancelled bool

	// Completed is set once the writer completed. No more data will arrive
	// beyond Buffer.
	Completed bool

	// Err is the fault the writer completed with, if any.
	Err error
}

// PipeReader is the consumer side of a Pipe.
type PipeReader struct {
	p *Pipe
}

// TryRead returns the unread bytes without blocking. ok is false when the
// caller would have to wait for data.
func (r *PipeReader) TryRead() (result ReadResult, ok bool, err error) {
	const op = "PipeReader.TryRead"
	p := r.p

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readerCompletion.completed {
		return ReadResult{}, false, invalidState(op, "reading is not allowed after the reader was completed")
	}

	if p.length > 0 || p.readerAwaitable.isSignalled() {
		result, err = p.readResultLocked(op)
		if err != nil {
			return ReadResult{}, false, err
		}
		return result, true, nil
	}

	if p.readerAwaitable.hasContinuation() {
		return ReadResult{}, false, invalidState(op, "a read is already pending")
	}
	return ReadResult{}, false, nil
}

// Read waits until data is committed, the writer completes, or the read is
// cancelled through ctx or CancelPendingRead. Cancellation is reported in the
// result, not as an error, and leaves the pipe usable.
//
// Every successful non-cancelled Read must be followed by AdvanceTo before
// the next Read.
func (r *PipeReader) Read(ctx context.Context) (ReadResult, error) {
	const op = "PipeReader.Read"
	p := r.p

	p.mu.Lock()
	if p.readerCompletion.completed {
		p.mu.Unlock()
		return ReadResult{}, invalidState(op, "reading is not allowed after the reader was completed")
	}
	if p.readingState.isActive() {
		p.mu.Unlock()
		return ReadResult{}, invalidState(op, "a read is already in progress; call AdvanceTo first")
	}

	var done <-chan struct{}
	if !p.readerAwaitable.isSignalled() {
		var err error
		if done, err = p.parkLocked(ctx, &p.readerAwaitable, p.readerScheduler, op); err != nil {
			p.mu.Unlock()
			return ReadResult{}, err
		}
	}
	p.mu.Unlock()

	if done != nil {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readResultLocked(op)
}

// Advance marks the bytes before consumed as consumed and examined.
func (r *PipeReader) Advance(consumed Cursor) error {
	return r.AdvanceTo(consumed, consumed)
}

// AdvanceTo ends the current read. Bytes before consumed are released; bytes
// up to examined were looked at but stay buffered. When examined reaches the
// end of the committed data, the next Read waits for more to arrive.
//
// If that happens while the writer is blocked on backpressure neither side
// could make progress, and AdvanceTo fails with a backpressure_deadlock
// error. The consumed bytes are still released.
func (r *PipeReader) AdvanceTo(consumed, examined Cursor) error {
	const op = "PipeReader.AdvanceTo"
	p := r.p

	if !consumed.IsZero() && !examined.IsZero() {
		if err := boundsCheck(op, examined, consumed); err != nil {
			return err
		}
	}

	var (
		returnStart, returnEnd *segment
		writerCont             func()
		deadlock               bool
	)

	p.mu.Lock()

	if !p.readingState.isStarted() {
		p.mu.Unlock()
		return invalidState(op, "no read to advance; call Read first")
	}

	examinedEverything := false
	if examined.seg == p.commitHead {
		if p.commitHead != nil {
			examinedEverything = examined.index == p.commitHeadIndex
		} else {
			examinedEverything = examined.index == 0
		}
	}

	if consumed.seg != nil {
		if p.readHead == nil {
			p.mu.Unlock()
			return invalidState(op, "cursor does not belong to this pipe")
		}

		readCursor := Cursor{seg: p.readHead, index: p.readHeadIndex}
		commitCursor := Cursor{seg: p.commitHead, index: p.commitHeadIndex}
		if err := boundsCheck(op, consumed, readCursor); err != nil {
			p.mu.Unlock()
			return err
		}
		if err := boundsCheck(op, commitCursor, consumed); err != nil {
			p.mu.Unlock()
			return err
		}

		returnStart = p.readHead
		returnEnd = consumed.seg

		oldLength := p.length
		p.length -= distance(readCursor, consumed)

		if oldLength >= p.resumeThreshold && p.length < p.resumeThreshold {
			writerCont = p.writerAwaitable.complete()
			if p.pauseThreshold > 0 {
				p.log.Debug("backpressure released", zap.Int64("length", p.length))
			}
		}

		// A fully consumed commit head is only recycled when no write is
		// appending to its tail.
		if consumed.index == returnEnd.end &&
			!(p.commitHead == returnEnd && p.writingState.isStarted()) {
			next := returnEnd.next
			if p.commitHead == returnEnd {
				p.commitHead = next
				p.commitHeadIndex = 0
			}

			p.readHead = next
			p.readHeadIndex = 0
			if next != nil {
				p.readHeadIndex = next.start
			}
			returnEnd = next
		} else {
			p.readHead = consumed.seg
			p.readHeadIndex = consumed.index
		}
	}

	if examinedEverything && !p.writerCompletion.completed {
		if p.writerAwaitable.isSignalled() {
			p.readerAwaitable.reset()
		} else {
			deadlock = true
		}
	}

	_ = p.readingState.end(op, "no read to advance")

	for returnStart != nil && returnStart != returnEnd {
		next := returnStart.next
		returnStart.resetMemory()
		p.returnSegmentLocked(returnStart)
		returnStart = next
	}

	length := p.length
	p.mu.Unlock()

	trySchedule(p.writerScheduler, writerCont)

	if deadlock {
		p.log.Error("backpressure deadlock",
			zap.Int64("length", length),
			zap.Int64("pause_threshold", p.pauseThreshold),
		)
		return newError(op, KindBackpressureDeadlock,
			"examined all %d buffered bytes while the writer waits for them to drain", length)
	}
	return nil
}

// CancelPendingRead wakes a pending Read with Cancelled set. If no read is
// pending the next one returns cancelled at once. The pipe stays open.
func (r *PipeReader) CancelPendingRead() {
	p := r.p
	p.mu.Lock()
	cont := p.readerAwaitable.cancel()
	p.mu.Unlock()
	trySchedule(p.readerScheduler, cont)
}

// Complete marks the reader finished, optionally with a fault the writer will
// see in FlushResult.Err. It fails while a read awaits AdvanceTo.
func (r *PipeReader) Complete(fault error) error {
	const op = "PipeReader.Complete"
	p := r.p

	p.mu.Lock()
	if p.readingState.isActive() {
		p.mu.Unlock()
		return invalidState(op, "cannot complete the reader while a read is in progress; call AdvanceTo first")
	}
	cbs := p.readerCompletion.tryComplete(fault)
	stored := p.readerCompletion.err
	writerCont := p.writerAwaitable.complete()
	writerCompleted := p.writerCompletion.completed
	p.mu.Unlock()

	if cbs != nil {
		p.log.Debug("reader completed", zap.Error(stored))
		p.scheduleCallbacks(p.writerScheduler, cbs, stored)
	}
	trySchedule(p.writerScheduler, writerCont)

	if writerCompleted {
		p.completePipe()
	}
	return nil
}

// OnWriterCompleted registers cb to run once the writer completes. It runs
// through the reader scheduler with the writer's fault. Registering after
// completion schedules cb right away.
func (r *PipeReader) OnWriterCompleted(cb func(error)) {
	p := r.p
	p.mu.Lock()
	cbs := p.writerCompletion.addCallback(cb)
	stored := p.writerCompletion.err
	p.mu.Unlock()

	p.scheduleCallbacks(p.readerScheduler, cbs, stored)
}

// WriteTo drains the pipe into w until the writer completes. It returns the
// writer's fault, if any.
func (r *PipeReader) WriteTo(w io.Writer) (int64, error) {
	return r.writeTo(context.Background(), w)
}

func (r *PipeReader) writeTo(ctx context.Context, w io.Writer) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		result, err := r.Read(ctx)
		if err != nil {
			return n, err
		}
		if result.Cancelled {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			return n, context.Canceled
		}

		buf := result.Buffer
		written, werr := buf.WriteTo(w)
		n += written
		if werr != nil {
			consumed, err := buf.Move(buf.Start(), written)
			if err != nil {
				consumed = buf.Start()
			}
			_ = r.AdvanceTo(consumed, consumed)
			return n, werr
		}

		if err := r.AdvanceTo(buf.End(), buf.End()); err != nil {
			return n, err
		}
		if result.Completed {
			return n, result.Err
		}
	}
}

// Close completes the reader without a fault.
func (r *PipeReader) Close() error {
	return r.Complete(nil)
}

// CloseWithError completes the reader with err as its fault.
func (r *PipeReader) CloseWithError(err error) error {
	return r.Complete(err)
}
