package zpipe

import "fmt"

// Cursor addresses one byte position inside a segment chain. The zero Cursor
// is unset. A cursor is only meaningful relative to the chain that produced
// it and stops being valid once the reader advances past its segment.
type Cursor struct {
	seg   *segment
	index int
}

// IsZero reports whether c is the unset cursor.
func (c Cursor) IsZero() bool {
	return c.seg == nil
}

// IsEnd reports whether no byte is reachable from c: neither its own segment
// nor any later segment has active bytes left. It reads the chain as it is
// now, including bytes the writer has advanced but not committed, so on a
// live pipe it is only meaningful while no write is in progress. Use
// Buffer.IsEnd to test against the end of a read.
func (c Cursor) IsEnd() bool {
	if c.seg == nil {
		return true
	}
	if c.index < c.seg.end {
		return false
	}
	for seg := c.seg.next; seg != nil; seg = seg.next {
		if seg.end > seg.start {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer for debugging.
func (c Cursor) String() string {
	if c.seg == nil {
		return "<zero>"
	}
	return fmt.Sprintf("%p[%d]", c.seg, c.index)
}

// position returns the cursor's virtual offset within its chain.
func (c Cursor) position() int64 {
	return c.seg.runningLength + int64(c.index-c.seg.start)
}

// distance returns the number of bytes between a and b, where a ≤ b.
func distance(a, b Cursor) int64 {
	if a.seg == nil {
		return 0
	}
	if a.seg == b.seg {
		return int64(b.index - a.index)
	}
	return (b.seg.runningLength - a.seg.next.runningLength) +
		int64(a.seg.end-a.index) +
		int64(b.index-b.seg.start)
}

// greaterOrEqual reports whether ref is at or after cand. The comparison is
// arranged as two differences so large running lengths cannot overflow.
func greaterOrEqual(ref, cand Cursor) bool {
	return cand.seg.runningLength-int64(ref.index-ref.seg.start) <=
		ref.seg.runningLength-int64(cand.index-cand.seg.start)
}

// boundsCheck fails unless cand is ordered at or before ref.
func boundsCheck(op string, ref, cand Cursor) error {
	if ref.seg == nil || cand.seg == nil {
		if ref.seg == cand.seg {
			return nil
		}
		return outOfBounds(op)
	}
	if ref.seg == cand.seg {
		if cand.index > ref.index {
			return outOfBounds(op)
		}
		return nil
	}
	if !greaterOrEqual(ref, cand) {
		return outOfBounds(op)
	}
	return nil
}

// tryGetSpan returns the contiguous bytes from begin up to end or the end of
// begin's segment, whichever comes first, and the cursor to resume from.
// ok is false once begin is the zero cursor.
func tryGetSpan(begin, end Cursor) (span []byte, next Cursor, ok bool, err error) {
	seg := begin.seg
	if seg == nil {
		return nil, Cursor{}, false, nil
	}

	stop := seg.end
	if seg == end.seg {
		stop = end.index
	} else if seg.next == nil {
		if end.seg != nil {
			return nil, Cursor{}, false, inconsistentChain("tryGetSpan")
		}
	} else {
		next = Cursor{seg: seg.next, index: seg.next.start}
	}

	return seg.block.data[begin.index:stop], next, true, nil
}

// seek moves n bytes forward from begin without passing end. When
// checkEndReachable is false the walk stops as soon as the target is found,
// which is only safe when end is known to belong to begin's chain.
func seek(op string, begin, end Cursor, n int64, checkEndReachable bool) (Cursor, error) {
	if n < 0 {
		return Cursor{}, outOfRange(op, "negative offset %d", n)
	}
	if begin.seg == end.seg && int64(end.index-begin.index) >= n {
		return Cursor{seg: begin.seg, index: begin.index + int(n)}, nil
	}
	return seekMultiSegment(op, begin, end, n, checkEndReachable)
}

func seekMultiSegment(op string, begin, end Cursor, n int64, checkEndReachable bool) (Cursor, error) {
	var result Cursor
	found := false
	current := begin
	for {
		span, next, ok, err := tryGetSpan(current, end)
		if err != nil {
			return Cursor{}, err
		}
		if !ok {
			break
		}
		if !found {
			// Prefer the start of the next segment over one past the end of
			// this one, unless this is the last segment.
			l := int64(len(span))
			if l > n || (l == n && next.seg == nil) {
				result = Cursor{seg: current.seg, index: current.index + int(n)}
				found = true
				if !checkEndReachable {
					break
				}
			}
			n -= l
		}
		current = next
	}

	if !found {
		return Cursor{}, outOfBounds(op)
	}
	return result, nil
}
