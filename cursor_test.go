package zpipe

import (
	"errors"
	"testing"
)

// =============================================================================
// Segment Tests
// =============================================================================

func TestSegment_LinkNextRunningLength(t *testing.T) {
	b := chainOf("abc", "de", "fgh")

	var got []int64
	for seg := b.start.seg; seg != nil; seg = seg.next {
		got = append(got, seg.runningLength)
	}

	want := []int64{0, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("chain has %d segments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d runningLength = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSegment_LinkNextTwice(t *testing.T) {
	b := chainOf("a", "b")

	if err := b.start.seg.linkNext(&segment{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("linkNext on a linked segment = %v, want ErrInvalidState", err)
	}
}

func TestSegment_SetMemoryTwice(t *testing.T) {
	seg := &segment{}
	blk := newUnpooledBlock(4)
	if err := seg.setMemory(blk, 0, 0); err != nil {
		t.Fatalf("setMemory failed: %v", err)
	}
	if err := seg.setMemory(blk, 0, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second setMemory = %v, want ErrInvalidState", err)
	}

	seg.resetMemory()
	if blk.Refs() != 0 {
		t.Errorf("Refs() after resetMemory = %d, want 0", blk.Refs())
	}
	if err := seg.setMemory(blk, 1, 2); err != nil {
		t.Errorf("setMemory after reset failed: %v", err)
	}
	if seg.length() != 1 || seg.writableBytes() != 2 {
		t.Errorf("length()=%d writableBytes()=%d, want 1 and 2", seg.length(), seg.writableBytes())
	}
}

// =============================================================================
// Cursor Arithmetic Tests
// =============================================================================

func TestCursor_Distance(t *testing.T) {
	b := chainOf("abc", "de", "fgh")

	tests := []struct {
		from, to int64
	}{
		{0, 0},
		{0, 8},
		{1, 2},
		{2, 4},
		{3, 5},
		{1, 7},
	}

	for _, tt := range tests {
		from, err := b.Move(b.Start(), tt.from)
		if err != nil {
			t.Fatalf("Move(%d) failed: %v", tt.from, err)
		}
		to, err := b.Move(b.Start(), tt.to)
		if err != nil {
			t.Fatalf("Move(%d) failed: %v", tt.to, err)
		}
		if got := distance(from, to); got != tt.to-tt.from {
			t.Errorf("distance(%d, %d) = %d, want %d", tt.from, tt.to, got, tt.to-tt.from)
		}
		if err := boundsCheck("test", to, from); err != nil {
			t.Errorf("boundsCheck(%d, %d) = %v, want nil", tt.to, tt.from, err)
		}
		if tt.to > tt.from {
			if err := boundsCheck("test", from, to); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("boundsCheck(%d, %d) = %v, want ErrOutOfBounds", tt.from, tt.to, err)
			}
		}
	}
}

func TestCursor_DistanceMultiGigabyte(t *testing.T) {
	// Three linked segments standing in for a stream whose middle segment
	// covers 5GiB. Only running lengths matter to the arithmetic.
	first := &segment{}
	middle := &segment{}
	last := &segment{}
	for _, seg := range []*segment{first, middle, last} {
		if err := seg.setMemory(newUnpooledBlock(8), 0, 8); err != nil {
			t.Fatalf("setMemory failed: %v", err)
		}
	}
	first.runningLength = 3 << 32
	if err := first.linkNext(middle); err != nil {
		t.Fatalf("linkNext failed: %v", err)
	}
	if err := middle.linkNext(last); err != nil {
		t.Fatalf("linkNext failed: %v", err)
	}
	const gap = int64(5) << 30
	last.runningLength = middle.runningLength + gap

	from := Cursor{seg: first, index: 2}
	to := Cursor{seg: last, index: 3}

	want := gap + 6 + 3
	if got := distance(from, to); got != want {
		t.Errorf("distance = %d, want %d", got, want)
	}
	if got := to.position() - from.position(); got != want {
		t.Errorf("position difference = %d, want %d", got, want)
	}

	if !greaterOrEqual(to, from) || greaterOrEqual(from, to) {
		t.Error("greaterOrEqual does not order cursors beyond 4GiB")
	}
	if err := boundsCheck("test", to, from); err != nil {
		t.Errorf("boundsCheck(to, from) = %v, want nil", err)
	}
	if err := boundsCheck("test", from, to); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("boundsCheck(from, to) = %v, want ErrOutOfBounds", err)
	}

	b := newBuffer(from, to)
	if b.Len() != want {
		t.Errorf("Buffer.Len() = %d, want %d", b.Len(), want)
	}
}

func TestCursor_SeekPrefersNextSegment(t *testing.T) {
	b := chainOf("abc", "de")

	c, err := b.Move(b.Start(), 3)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if c.seg != b.start.seg.next || c.index != 0 {
		t.Errorf("Move(3) = %v, want start of the second segment", c)
	}

	end, err := b.Move(b.Start(), 5)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if end != b.End() {
		t.Errorf("Move(5) = %v, want End() %v", end, b.End())
	}
}

func TestCursor_SeekCheckEndReachable(t *testing.T) {
	a := chainOf("abc", "de")
	other := chainOf("xyz")

	if _, err := seek("test", a.start, other.end, 1, false); err != nil {
		t.Errorf("seek without reachability check = %v, want nil", err)
	}
	if _, err := seek("test", a.start, other.end, 1, true); !errors.Is(err, ErrInconsistentChain) {
		t.Errorf("seek with reachability check = %v, want ErrInconsistentChain", err)
	}
}

func TestCursor_IsEnd(t *testing.T) {
	b := chainOf("ab", "", "")

	if b.Start().IsEnd() {
		t.Error("Start().IsEnd() = true, want false")
	}
	if !b.End().IsEnd() {
		t.Error("End().IsEnd() = false, want true")
	}

	afterFirst := Cursor{seg: b.start.seg, index: 2}
	if !afterFirst.IsEnd() {
		t.Error("cursor before only empty segments should be at the end")
	}

	var zero Cursor
	if !zero.IsZero() || !zero.IsEnd() {
		t.Error("zero cursor should be zero and at the end")
	}
}

func TestCursor_TryGetSpan(t *testing.T) {
	b := chainOf("abc", "de")

	span, next, ok, err := tryGetSpan(Cursor{seg: b.start.seg, index: 1}, b.End())
	if err != nil || !ok {
		t.Fatalf("tryGetSpan = ok %v, err %v", ok, err)
	}
	if string(span) != "bc" {
		t.Errorf("span = %q, want %q", span, "bc")
	}
	if next.seg != b.start.seg.next || next.index != 0 {
		t.Errorf("next = %v, want start of the second segment", next)
	}

	span, next, ok, err = tryGetSpan(next, b.End())
	if err != nil || !ok || string(span) != "de" {
		t.Fatalf("tryGetSpan = %q, ok %v, err %v", span, ok, err)
	}
	if !next.IsZero() {
		t.Errorf("next after the end segment = %v, want zero", next)
	}

	if _, _, ok, _ := tryGetSpan(next, b.End()); ok {
		t.Error("tryGetSpan on the zero cursor should report no span")
	}
}
