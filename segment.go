package zpipe

import "sync/atomic"

// segment is one node of a pipe's buffer chain. It owns a reference to one
// rented block and exposes block[start:end] as its active bytes.
//
// runningLength is the sum of active lengths of every segment before this one
// in the chain. It is assigned when the segment is linked and lets cursor
// arithmetic measure distances without walking the chain.
type segment struct {
	block *Block
	next  *segment

	runningLength int64
	start         int
	end           int

	// readOnly is set once the block is shared by a preserved buffer; the
	// writer must not append into the tail of such a block.
	readOnly atomic.Bool
}

// setMemory binds a block to the segment and retains it.
func (s *segment) setMemory(b *Block, start, end int) error {
	if s.block != nil {
		return invalidState("segment.setMemory", "previous block was never released")
	}
	b.Retain()
	s.block = b
	s.start = start
	s.end = end
	s.next = nil
	s.runningLength = 0
	s.readOnly.Store(false)
	return nil
}

// resetMemory releases the bound block. It must be called exactly once per
// setMemory.
func (s *segment) resetMemory() {
	b := s.block
	s.block = nil
	s.start = 0
	s.end = 0
	if b != nil {
		b.Release()
	}
}

// linkNext appends next and assigns running lengths to every segment now
// reachable from s.
func (s *segment) linkNext(next *segment) error {
	if s.next != nil {
		return invalidState("segment.linkNext", "segment already has a successor")
	}
	s.next = next

	seg := s
	for seg.next != nil {
		seg.next.runningLength = seg.runningLength + int64(seg.length())
		seg = seg.next
	}
	return nil
}

// length returns the number of active bytes.
func (s *segment) length() int {
	return s.end - s.start
}

// writableBytes returns the free capacity after end.
func (s *segment) writableBytes() int {
	return len(s.block.data) - s.end
}

// cloneChain copies the segments covering [begin, end) into a new chain
// sharing the same blocks. Every block is retained once per cloned segment
// and every source segment is marked read-only.
func cloneChain(begin, end Cursor) (head, tail *segment, err error) {
	seg := begin.seg
	for seg != nil {
		start := seg.start
		if seg == begin.seg {
			start = begin.index
		}
		stop := seg.end
		if seg == end.seg {
			stop = end.index
		}

		clone := &segment{}
		if err := clone.setMemory(seg.block, start, stop); err != nil {
			releaseChain(head)
			return nil, nil, err
		}
		clone.readOnly.Store(true)
		seg.readOnly.Store(true)

		if head == nil {
			head = clone
		} else if err := tail.linkNext(clone); err != nil {
			clone.resetMemory()
			releaseChain(head)
			return nil, nil, err
		}
		tail = clone

		if seg == end.seg {
			return head, tail, nil
		}
		seg = seg.next
	}

	releaseChain(head)
	return nil, nil, inconsistentChain("Buffer.Preserve")
}

// releaseChain resets every segment reachable from head.
func releaseChain(head *segment) {
	for seg := head; seg != nil; {
		next := seg.next
		seg.resetMemory()
		seg.next = nil
		seg = next
	}
}
