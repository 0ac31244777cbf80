package zpipe

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// FlushResult is the outcome of a flush.
type FlushResult struct {
	// Cancelled is set when the flush was woken by CancelPendingFlush or by
	// its context before the reader drained the pipe.
	Cancelled bool

	// Completed is set once the reader completed. Further writes are never
	// read.
	Completed bool

	// Err is the fault the reader completed with, if any.
	Err error
}

// PipeWriter is the producer side of a Pipe.
type PipeWriter struct {
	p *Pipe
}

// Alloc returns writable memory of at least minSize bytes. The bytes written
// into it become part of the pipe with Advance and visible to the reader with
// Commit or Flush. The slice is valid until the next Commit.
func (w *PipeWriter) Alloc(minSize int) ([]byte, error) {
	const op = "PipeWriter.Alloc"
	p := w.p

	if minSize < 0 {
		return nil, outOfRange(op, "negative size %d", minSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writerCompletion.completed {
		return nil, invalidState(op, "writing is not allowed after the writer was completed")
	}

	seg := p.writingHead
	if seg == nil {
		if err := p.writingState.beginTentative(op, "a write is already in progress"); err != nil {
			return nil, err
		}
		var err error
		if seg, err = p.allocateWriteHeadLocked(minSize); err != nil {
			_ = p.writingState.end(op, "no write to complete")
			return nil, err
		}
	}

	if avail := seg.writableBytes(); avail == 0 || avail < minSize || seg.readOnly.Load() {
		next, err := p.rentSegmentLocked(minSize)
		if err != nil {
			return nil, err
		}
		if err := seg.linkNext(next); err != nil {
			next.resetMemory()
			p.returnSegmentLocked(next)
			return nil, err
		}
		p.writingHead = next
		seg = next
	}

	return seg.block.data[seg.end:], nil
}

// Advance records that n bytes were written into the memory returned by the
// last Alloc.
func (w *PipeWriter) Advance(n int) error {
	const op = "PipeWriter.Advance"
	p := w.p

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.writingState.isStarted() || p.writingHead == nil {
		return invalidState(op, "no memory to advance into; call Alloc first")
	}
	if n < 0 {
		return outOfRange(op, "negative byte count %d", n)
	}
	if n == 0 {
		return nil
	}

	seg := p.writingHead
	if seg.end+n > len(seg.block.data) {
		return outOfRange(op, "advancing %d bytes past the end of a %d byte block", n, len(seg.block.data))
	}
	seg.end += n
	p.currentWriteLength += int64(n)
	return nil
}

// Commit makes the advanced bytes visible to the reader without waking it.
func (w *PipeWriter) Commit() error {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commitLocked("PipeWriter.Commit")
}

// Flush commits pending bytes and wakes the reader. It returns at once
// unless the buffered length reached the pause threshold; then it waits until
// the reader drains below the resume threshold, the reader completes, or the
// flush is cancelled through ctx or CancelPendingFlush.
func (w *PipeWriter) Flush(ctx context.Context) (FlushResult, error) {
	const op = "PipeWriter.Flush"
	p := w.p

	p.mu.Lock()
	if p.writerCompletion.completed {
		p.mu.Unlock()
		return FlushResult{}, invalidState(op, "flushing is not allowed after the writer was completed")
	}

	if p.writingState.isStarted() {
		if err := p.commitLocked(op); err != nil {
			p.mu.Unlock()
			return FlushResult{}, err
		}
	}

	readerCont := p.readerAwaitable.complete()

	var (
		done <-chan struct{}
		err  error
	)
	if !p.writerAwaitable.isSignalled() {
		done, err = p.parkLocked(ctx, &p.writerAwaitable, p.writerScheduler, op)
	}
	p.mu.Unlock()

	trySchedule(p.readerScheduler, readerCont)

	if err != nil {
		return FlushResult{}, err
	}
	if done != nil {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushResultLocked(), nil
}

// CancelPendingFlush wakes a pending Flush with Cancelled set. If no flush is
// pending the next one returns cancelled at once. The pipe stays open.
func (w *PipeWriter) CancelPendingFlush() {
	p := w.p
	p.mu.Lock()
	cont := p.writerAwaitable.cancel()
	p.mu.Unlock()
	trySchedule(p.writerScheduler, cont)
}

// Complete marks the writer finished, optionally with a fault the reader will
// see in ReadResult.Err. It fails while a write started by Alloc has not been
// committed.
func (w *PipeWriter) Complete(fault error) error {
	const op = "PipeWriter.Complete"
	p := w.p

	p.mu.Lock()
	if p.writingState.isStarted() {
		p.mu.Unlock()
		return invalidState(op, "cannot complete the writer during a write; call Commit or Flush first")
	}
	cbs := p.writerCompletion.tryComplete(fault)
	stored := p.writerCompletion.err
	readerCont := p.readerAwaitable.complete()
	readerCompleted := p.readerCompletion.completed
	p.mu.Unlock()

	if cbs != nil {
		p.log.Debug("writer completed", zap.Error(stored))
		p.scheduleCallbacks(p.readerScheduler, cbs, stored)
	}
	trySchedule(p.readerScheduler, readerCont)

	if readerCompleted {
		p.completePipe()
	}
	return nil
}

// OnReaderCompleted registers cb to run once the reader completes. It runs
// through the writer scheduler with the reader's fault. Registering after
// completion schedules cb right away.
func (w *PipeWriter) OnReaderCompleted(cb func(error)) {
	p := w.p
	p.mu.Lock()
	cbs := p.readerCompletion.addCallback(cb)
	stored := p.readerCompletion.err
	p.mu.Unlock()

	p.scheduleCallbacks(p.writerScheduler, cbs, stored)
}

// Write copies b into the pipe and flushes it, blocking under backpressure.
// It returns io.ErrClosedPipe once the reader has completed.
func (w *PipeWriter) Write(b []byte) (int, error) {
	if w.readerCompleted() {
		return 0, io.ErrClosedPipe
	}

	n := 0
	for len(b) > 0 {
		buf, err := w.Alloc(1)
		if err != nil {
			return n, err
		}
		c := copy(buf, b)
		if err := w.Advance(c); err != nil {
			return n, err
		}
		n += c
		b = b[c:]
	}

	return n, flushErr(w.Flush(context.Background()))
}

// ReadFrom reads r into the pipe until io.EOF, flushing after every read.
func (w *PipeWriter) ReadFrom(r io.Reader) (int64, error) {
	return w.readFrom(context.Background(), r)
}

func (w *PipeWriter) readFrom(ctx context.Context, r io.Reader) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if w.readerCompleted() {
			return n, io.ErrClosedPipe
		}

		buf, err := w.Alloc(1)
		if err != nil {
			return n, err
		}
		read, rerr := r.Read(buf)
		if err := w.Advance(read); err != nil {
			return n, err
		}
		n += int64(read)

		if err := flushErr(w.Flush(ctx)); err != nil {
			return n, err
		}
		// Flush only watches ctx while it waits.
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return n, nil
			}
			return n, rerr
		}
	}
}

// flushErr folds a flush outcome into a single error for the io adapters.
func flushErr(result FlushResult, err error) error {
	switch {
	case err != nil:
		return err
	case result.Completed:
		return io.ErrClosedPipe
	case result.Cancelled:
		return context.Canceled
	}
	return nil
}

func (w *PipeWriter) readerCompleted() bool {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readerCompletion.completed
}

// Close commits any pending bytes and completes the writer without a fault.
func (w *PipeWriter) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError commits any pending bytes and completes the writer with err
// as its fault.
func (w *PipeWriter) CloseWithError(err error) error {
	p := w.p
	p.mu.Lock()
	if p.writingState.isStarted() {
		if cerr := p.commitLocked("PipeWriter.Close"); cerr != nil {
			p.mu.Unlock()
			return cerr
		}
	}
	p.mu.Unlock()
	return w.Complete(err)
}
