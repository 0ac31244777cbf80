// Package zpipe provides a single-producer, single-consumer byte pipe with
// zero-copy reads and bounded memory.
//
// The producer asks the pipe for memory with Alloc, writes into it, and makes
// the bytes visible with Commit or Flush. The consumer reads a Buffer that
// views the very same memory, then tells the pipe how far it got with
// AdvanceTo. Memory comes from a Pool in blocks; blocks are linked into a
// chain of segments, recycled once consumed, and shared by reference count
// when a Buffer is preserved.
//
// Key features:
//   - Zero-copy in both directions: the writer fills pooled blocks in place
//     and the reader sees them through cursors, never through copies
//   - Backpressure: Flush blocks once PauseThreshold bytes are buffered and
//     resumes when the reader drains below ResumeThreshold
//   - Cooperative cancellation through context.Context and
//     CancelPendingRead/CancelPendingFlush; cancelling never closes the pipe
//   - Examined vs consumed: a reader can look at bytes without taking them
//     and is not woken again until more data arrives
//   - Pluggable schedulers deciding where woken continuations run
//   - Heap (sync.Pool) and mmap-backed slab memory pools
//   - io.Writer, io.ReaderFrom and io.WriterTo adapters, writev on output
//
// Thread Safety:
//
//	A Pipe supports exactly one producer goroutine and one consumer
//	goroutine at a time. PipeWriter methods must not be called
//	concurrently with each other; the same holds for PipeReader.
//	Buffer values are immutable and may be shared, but are only valid
//	until the reader advances past them.
//
// Errors:
//
//	Contract violations are returned as *Error and can be matched with
//	errors.Is against ErrInvalidState, ErrOutOfRange, ErrOutOfBounds,
//	ErrInconsistentChain and ErrBackpressureDeadlock. A fault passed to
//	Complete is not returned as an error; it surfaces in the other side's
//	ReadResult.Err or FlushResult.Err.
package zpipe

import (
	"go.uber.org/zap"
)

const (
	// DefaultMinimumSegmentSize is the smallest block a pipe rents.
	DefaultMinimumSegmentSize = DefaultBlockSize

	// DefaultPauseThreshold is the buffered length at which Flush blocks.
	DefaultPauseThreshold = 64 * 1024

	// DefaultSegmentPoolSize is the number of segment objects a pipe keeps
	// for reuse.
	DefaultSegmentPoolSize = 16

	// NoBackpressure disables backpressure when used as PauseThreshold.
	NoBackpressure = -1
)

// Options configures a Pipe. The zero value is usable.
type Options struct {
	// Pool rents memory blocks. Defaults to a shared HeapPool.
	Pool Pool

	// ReaderScheduler runs continuations that wake the reader: parked reads
	// and OnWriterCompleted callbacks. Defaults to Inline.
	ReaderScheduler Scheduler

	// WriterScheduler runs continuations that wake the writer: parked
	// flushes and OnReaderCompleted callbacks. Defaults to Inline.
	WriterScheduler Scheduler

	// Logger overrides the package logger.
	Logger *zap.Logger

	// MinimumSegmentSize is the smallest block rented for a new segment.
	// Defaults to DefaultMinimumSegmentSize.
	MinimumSegmentSize int

	// PauseThreshold is the number of unread bytes at which Flush starts
	// blocking. Zero selects DefaultPauseThreshold; NoBackpressure disables
	// blocking entirely.
	PauseThreshold int64

	// ResumeThreshold is the number of unread bytes below which a blocked
	// Flush resumes. It must lie in [1, PauseThreshold]. Zero selects half of
	// PauseThreshold.
	ResumeThreshold int64

	// SegmentPoolSize is the capacity of the pipe's segment free-list.
	// Defaults to DefaultSegmentPoolSize.
	SegmentPoolSize int
}

// withDefaults validates o and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.MinimumSegmentSize < 0 {
		return o, outOfRange("NewPipe", "negative minimum segment size %d", o.MinimumSegmentSize)
	}
	if o.SegmentPoolSize < 0 {
		return o, outOfRange("NewPipe", "negative segment pool size %d", o.SegmentPoolSize)
	}
	if o.ResumeThreshold < 0 {
		return o, outOfRange("NewPipe", "negative resume threshold %d", o.ResumeThreshold)
	}

	switch {
	case o.PauseThreshold == 0:
		o.PauseThreshold = DefaultPauseThreshold
	case o.PauseThreshold < 0:
		o.PauseThreshold = 0
		o.ResumeThreshold = 0
	}

	if o.PauseThreshold > 0 {
		if o.ResumeThreshold == 0 {
			o.ResumeThreshold = max(o.PauseThreshold/2, 1)
		}
		if o.ResumeThreshold > o.PauseThreshold {
			return o, outOfRange("NewPipe", "resume threshold %d exceeds pause threshold %d",
				o.ResumeThreshold, o.PauseThreshold)
		}
	}

	if o.Pool == nil {
		o.Pool = defaultPool
	}
	if o.ReaderScheduler == nil {
		o.ReaderScheduler = Inline
	}
	if o.WriterScheduler == nil {
		o.WriterScheduler = Inline
	}
	if o.Logger == nil {
		o.Logger = Logger()
	}
	if o.MinimumSegmentSize == 0 {
		o.MinimumSegmentSize = DefaultMinimumSegmentSize
	}
	if o.SegmentPoolSize == 0 {
		o.SegmentPoolSize = DefaultSegmentPoolSize
	}
	return o, nil
}
