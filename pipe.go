package zpipe

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipe is a single-producer, single-consumer byte channel. The producer side
// is reached through Writer and the consumer side through Reader.
//
// All state shared by the two sides is guarded by one mutex. Continuations
// that wake the other side are captured under the mutex and handed to the
// configured Scheduler only after it is released.
type Pipe struct {
	mu  sync.Mutex
	id  uuid.UUID
	log *zap.Logger

	pool               Pool
	minimumSegmentSize int
	pauseThreshold     int64
	resumeThreshold    int64
	readerScheduler    Scheduler
	writerScheduler    Scheduler

	length             int64
	currentWriteLength int64

	readerAwaitable  awaiter
	writerAwaitable  awaiter
	readerCompletion completion
	writerCompletion completion
	readingState     operationState
	writingState     operationState

	// segmentPool is a fixed-capacity free-list of segment objects.
	segmentPool []*segment

	// readHead is the extent of the bytes the reader consumed.
	readHead      *segment
	readHeadIndex int

	// commitHead is the extent of the bytes visible to the reader.
	commitHead      *segment
	commitHeadIndex int

	// writingHead is the segment currently receiving writes.
	writingHead *segment

	disposed bool

	reader PipeReader
	writer PipeWriter
}

// NewPipe creates a pipe configured by opts.
func NewPipe(opts Options) (*Pipe, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	p := &Pipe{
		id:                 id,
		log:                opts.Logger.With(zap.Stringer("pipe", id)),
		pool:               opts.Pool,
		minimumSegmentSize: opts.MinimumSegmentSize,
		pauseThreshold:     opts.PauseThreshold,
		resumeThreshold:    opts.ResumeThreshold,
		readerScheduler:    opts.ReaderScheduler,
		writerScheduler:    opts.WriterScheduler,
		readerAwaitable:    newAwaiter(false),
		writerAwaitable:    newAwaiter(true),
		segmentPool:        make([]*segment, 0, opts.SegmentPoolSize),
	}
	p.reader.p = p
	p.writer.p = p

	p.log.Debug("pipe created",
		zap.Int("minimum_segment_size", p.minimumSegmentSize),
		zap.Int64("pause_threshold", p.pauseThreshold),
		zap.Int64("resume_threshold", p.resumeThreshold),
	)
	return p, nil
}

// Reader returns the consumer side of the pipe.
func (p *Pipe) Reader() *PipeReader {
	return &p.reader
}

// Writer returns the producer side of the pipe.
func (p *Pipe) Writer() *PipeWriter {
	return &p.writer
}

// ID returns the identifier the pipe logs under.
func (p *Pipe) ID() uuid.UUID {
	return p.id
}

// Len returns the number of committed bytes the reader has not consumed.
func (p *Pipe) Len() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

// PooledSegments returns the number of segment objects waiting for reuse.
func (p *Pipe) PooledSegments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.segmentPool)
}

// Reset prepares a pipe whose reader and writer have both completed for
// another stream. It fails with an invalid_state error while either side is
// still open.
func (p *Pipe) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.disposed {
		return invalidState("Pipe.Reset", "both reader and writer must be completed before reset")
	}

	p.disposed = false
	p.readerCompletion.reset()
	p.writerCompletion.reset()
	p.readerAwaitable = newAwaiter(false)
	p.writerAwaitable = newAwaiter(true)
	p.readingState = operationNone
	p.writingState = operationNone
	p.readHeadIndex = 0
	p.commitHeadIndex = 0
	p.currentWriteLength = 0
	p.length = 0

	p.log.Debug("pipe reset")
	return nil
}

// newSegmentLocked takes a segment from the free-list or allocates one.
func (p *Pipe) newSegmentLocked() *segment {
	if n := len(p.segmentPool); n > 0 {
		seg := p.segmentPool[n-1]
		p.segmentPool[n-1] = nil
		p.segmentPool = p.segmentPool[:n-1]
		return seg
	}
	return &segment{}
}

// returnSegmentLocked pushes seg onto the free-list. A full free-list drops it.
func (p *Pipe) returnSegmentLocked(seg *segment) {
	if len(p.segmentPool) < cap(p.segmentPool) {
		p.segmentPool = append(p.segmentPool, seg)
	}
}

// rentSegmentLocked returns a fresh segment bound to a block of at least
// size bytes.
func (p *Pipe) rentSegmentLocked(size int) (*segment, error) {
	seg := p.newSegmentLocked()
	if err := seg.setMemory(p.pool.Rent(max(p.minimumSegmentSize, size)), 0, 0); err != nil {
		return nil, err
	}
	return seg, nil
}

// allocateWriteHeadLocked picks the segment the next write goes to: the
// spare tail of the commit head when it fits, otherwise a new segment linked
// after it.
func (p *Pipe) allocateWriteHeadLocked(size int) (*segment, error) {
	var seg *segment

	if p.commitHead != nil && !p.commitHead.readOnly.Load() {
		remaining := p.commitHead.writableBytes()
		if size <= remaining && remaining > 0 {
			seg = p.commitHead
		}
	}

	if seg == nil {
		var err error
		if seg, err = p.rentSegmentLocked(size); err != nil {
			return nil, err
		}
	}

	if p.commitHead == nil {
		p.commitHead = seg
		p.commitHeadIndex = seg.end
	} else if seg != p.commitHead && p.commitHead.next == nil {
		if err := p.commitHead.linkNext(seg); err != nil {
			return nil, err
		}
	}

	p.writingHead = seg
	return seg, nil
}

func (p *Pipe) commitLocked(op string) error {
	if err := p.writingState.end(op, "no write to commit; call Alloc first"); err != nil {
		return err
	}

	if p.writingHead == nil {
		return nil
	}

	if p.readHead == nil {
		p.readHead = p.commitHead
		p.readHeadIndex = p.commitHead.start
	}

	p.commitHead = p.writingHead
	p.commitHeadIndex = p.writingHead.end
	p.length += p.currentWriteLength

	if p.pauseThreshold > 0 &&
		p.length >= p.pauseThreshold &&
		!p.readerCompletion.completed {
		if p.writerAwaitable.isSignalled() {
			p.log.Debug("backpressure engaged", zap.Int64("length", p.length))
		}
		p.writerAwaitable.reset()
	}

	p.writingHead = nil
	p.currentWriteLength = 0
	return nil
}

// parkLocked parks a continuation on a and returns the channel closed when
// the awaiter is signalled. A nil channel means the awaiter was already
// signalled. The context is attached only while this park is pending.
func (p *Pipe) parkLocked(ctx context.Context, a *awaiter, s Scheduler, op string) (<-chan struct{}, error) {
	done := make(chan struct{})
	gen := a.generation() + 1

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		cont := a.cancelParked(gen)
		p.mu.Unlock()
		trySchedule(s, cont)
	})

	run, ok := a.park(func() { close(done) }, stop)
	if !ok {
		stop()
		return nil, invalidState(op, "another operation is already pending")
	}
	if run != nil {
		stop()
		return nil, nil
	}
	return done, nil
}

func (p *Pipe) readResultLocked(op string) (ReadResult, error) {
	if p.readingState.isActive() {
		return ReadResult{}, invalidState(op, "a read is already in progress; call AdvanceTo first")
	}

	var result ReadResult
	if p.writerCompletion.completed {
		result.Completed = true
		result.Err = p.writerCompletion.err
	}

	cancelled := p.readerAwaitable.observeCancellation()
	result.Cancelled = cancelled

	if p.readHead != nil {
		result.Buffer = newBuffer(
			Cursor{seg: p.readHead, index: p.readHeadIndex},
			Cursor{seg: p.commitHead, index: p.commitHeadIndex},
		)
	}

	if cancelled {
		// A cancelled read does not have to be advanced. If only the
		// cancellation woke it, the next Read waits for data again.
		_ = p.readingState.beginTentative(op, "a read is already in progress")
		if p.readerAwaitable.cancelOnly && !p.writerCompletion.completed {
			p.readerAwaitable.reset()
		}
	} else {
		_ = p.readingState.begin(op, "a read is already in progress")
	}
	return result, nil
}

func (p *Pipe) flushResultLocked() FlushResult {
	var result FlushResult
	if p.writerAwaitable.observeCancellation() {
		result.Cancelled = true
		// Backpressure still holds; the next Flush waits again.
		if p.writerAwaitable.cancelOnly &&
			p.pauseThreshold > 0 &&
			p.length >= p.pauseThreshold &&
			!p.readerCompletion.completed {
			p.writerAwaitable.reset()
		}
	}
	if p.readerCompletion.completed {
		result.Completed = true
		result.Err = p.readerCompletion.err
	}
	return result
}

// completePipe releases every segment still held once both sides completed.
func (p *Pipe) completePipe() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}
	p.disposed = true

	seg := p.readHead
	if seg == nil {
		seg = p.commitHead
	}
	released := 0
	for seg != nil {
		next := seg.next
		seg.resetMemory()
		p.returnSegmentLocked(seg)
		seg = next
		released++
	}

	p.readHead = nil
	p.commitHead = nil
	p.writingHead = nil

	p.log.Debug("pipe torn down", zap.Int("segments", released))
}

// scheduleCallbacks delivers completion callbacks through s. A panicking
// callback is logged and does not prevent the rest from running.
func (p *Pipe) scheduleCallbacks(s Scheduler, cbs []func(error), err error) {
	if len(cbs) == 0 {
		return
	}
	s.Schedule(func() {
		for _, cb := range cbs {
			p.invokeCallback(cb, err)
		}
	})
}

func (p *Pipe) invokeCallback(cb func(error), err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("completion callback panicked", zap.Any("panic", r))
		}
	}()
	cb(err)
}
