package zpipe

import (
	"bytes"
	"io"
	"net"
	"os"
)

// Buffer is an immutable view of the bytes between two cursors. It may span
// several segments; no bytes are copied by slicing or enumerating it.
//
// A Buffer returned by PipeReader.Read is only valid until the next call to
// PipeReader.AdvanceTo. Use Preserve to keep the bytes longer.
type Buffer struct {
	start  Cursor
	end    Cursor
	length int64
}

func newBuffer(start, end Cursor) Buffer {
	return Buffer{start: start, end: end, length: distance(start, end)}
}

// NewBuffer wraps data in a single-segment Buffer without copying it.
// The caller keeps ownership of data.
func NewBuffer(data []byte) Buffer {
	seg := &segment{}
	_ = seg.setMemory(&Block{data: data}, 0, len(data))
	return newBuffer(Cursor{seg: seg}, Cursor{seg: seg, index: len(data)})
}

// Len returns the number of bytes in the buffer. O(1).
func (b Buffer) Len() int64 {
	return b.length
}

// IsEmpty reports whether the buffer holds no bytes.
func (b Buffer) IsEmpty() bool {
	return b.length == 0
}

// IsSingleSpan reports whether the buffer lies within one segment.
func (b Buffer) IsSingleSpan() bool {
	return b.start.seg == b.end.seg
}

// Start returns the cursor at the first byte.
func (b Buffer) Start() Cursor {
	return b.start
}

// End returns the cursor one past the last byte.
func (b Buffer) End() Cursor {
	return b.end
}

// First returns the first contiguous span. It does not copy.
func (b Buffer) First() []byte {
	span, _, ok, err := tryGetSpan(b.start, b.end)
	if !ok || err != nil {
		return nil
	}
	return span
}

// Slice returns length bytes starting offset bytes into the buffer.
func (b Buffer) Slice(offset, length int64) (Buffer, error) {
	begin, err := seek("Buffer.Slice", b.start, b.end, offset, false)
	if err != nil {
		return Buffer{}, err
	}
	end, err := seek("Buffer.Slice", begin, b.end, length, false)
	if err != nil {
		return Buffer{}, err
	}
	return newBuffer(begin, end), nil
}

// Skip returns the buffer without its first n bytes.
func (b Buffer) Skip(n int64) (Buffer, error) {
	if n == 0 {
		return b, nil
	}
	begin, err := seek("Buffer.Skip", b.start, b.end, n, false)
	if err != nil {
		return Buffer{}, err
	}
	return newBuffer(begin, b.end), nil
}

// SliceFrom returns the bytes from start to the end of the buffer.
func (b Buffer) SliceFrom(start Cursor) (Buffer, error) {
	if err := b.contains("Buffer.SliceFrom", start); err != nil {
		return Buffer{}, err
	}
	return newBuffer(start, b.end), nil
}

// SliceRange returns the bytes between start and end.
func (b Buffer) SliceRange(start, end Cursor) (Buffer, error) {
	if err := b.contains("Buffer.SliceRange", end); err != nil {
		return Buffer{}, err
	}
	if err := boundsCheck("Buffer.SliceRange", end, start); err != nil {
		return Buffer{}, err
	}
	if err := boundsCheck("Buffer.SliceRange", start, b.start); err != nil {
		return Buffer{}, err
	}
	return newBuffer(start, end), nil
}

// SliceN returns length bytes beginning at start.
func (b Buffer) SliceN(start Cursor, length int64) (Buffer, error) {
	if err := b.contains("Buffer.SliceN", start); err != nil {
		return Buffer{}, err
	}
	end, err := seek("Buffer.SliceN", start, b.end, length, false)
	if err != nil {
		return Buffer{}, err
	}
	return newBuffer(start, end), nil
}

// Move returns the cursor n bytes after c.
func (b Buffer) Move(c Cursor, n int64) (Cursor, error) {
	if err := b.contains("Buffer.Move", c); err != nil {
		return Cursor{}, err
	}
	return seek("Buffer.Move", c, b.end, n, false)
}

// IsEnd reports whether no byte of b lies at or after c. Unlike Cursor.IsEnd
// it compares against the buffer's own end, so bytes the writer appends
// after the read are not counted.
func (b Buffer) IsEnd(c Cursor) bool {
	if c.seg == nil || b.end.seg == nil {
		return true
	}
	return boundsCheck("Buffer.IsEnd", c, b.end) == nil
}

// contains fails unless b.start ≤ c ≤ b.end.
func (b Buffer) contains(op string, c Cursor) error {
	if err := boundsCheck(op, b.end, c); err != nil {
		return err
	}
	return boundsCheck(op, c, b.start)
}

// Enumerate returns a fresh enumerator over the buffer's contiguous spans.
func (b Buffer) Enumerate() *SpanEnumerator {
	return &SpanEnumerator{cur: b.start, end: b.end}
}

// CopyTo copies the buffer into dst and returns the number of bytes copied.
// It fails with an out_of_range error when dst is shorter than the buffer.
func (b Buffer) CopyTo(dst []byte) (int, error) {
	if int64(len(dst)) < b.length {
		return 0, outOfRange("Buffer.CopyTo", "destination holds %d bytes, buffer has %d", len(dst), b.length)
	}
	n := 0
	e := b.Enumerate()
	for e.Next() {
		n += copy(dst[n:], e.Span())
	}
	return n, e.Err()
}

// Bytes returns the buffer's contents.
//
// A single-span buffer is returned without copying, so the slice shares memory
// with the pipe. Multi-span buffers are copied into a fresh slice.
func (b Buffer) Bytes() []byte {
	if b.length == 0 {
		return nil
	}
	if b.IsSingleSpan() {
		return b.First()
	}
	out := make([]byte, b.length)
	_, _ = b.CopyTo(out)
	return out
}

// String returns the contents as a string. It always copies.
func (b Buffer) String() string {
	return string(b.Bytes())
}

// Peek returns the first byte without consuming it.
func (b Buffer) Peek() (byte, bool) {
	e := b.Enumerate()
	if !e.Next() {
		return 0, false
	}
	return e.Span()[0], true
}

// StartsWith reports whether the buffer begins with prefix.
func (b Buffer) StartsWith(prefix []byte) bool {
	if int64(len(prefix)) > b.length {
		return false
	}
	e := b.Enumerate()
	for len(prefix) > 0 && e.Next() {
		span := e.Span()
		n := min(len(span), len(prefix))
		if !bytes.Equal(span[:n], prefix[:n]) {
			return false
		}
		prefix = prefix[n:]
	}
	return len(prefix) == 0
}

// Equal reports whether the buffer holds exactly p.
func (b Buffer) Equal(p []byte) bool {
	return int64(len(p)) == b.length && b.StartsWith(p)
}

// IndexByte returns the cursor of the first occurrence of c.
func (b Buffer) IndexByte(c byte) (Cursor, bool) {
	e := b.Enumerate()
	for e.Next() {
		if i := bytes.IndexByte(e.Span(), c); i >= 0 {
			pos := e.Cursor()
			return Cursor{seg: pos.seg, index: pos.index + i}, true
		}
	}
	return Cursor{}, false
}

// SliceTo searches for delim, which may straddle segment boundaries. On
// success it returns the bytes before delim and the cursor at delim's first
// byte.
func (b Buffer) SliceTo(delim []byte) (Buffer, Cursor, bool) {
	if len(delim) == 0 {
		return Buffer{}, Cursor{}, false
	}
	search := b
	for search.length >= int64(len(delim)) {
		at, ok := search.IndexByte(delim[0])
		if !ok {
			break
		}
		rest := newBuffer(at, b.end)
		if rest.length < int64(len(delim)) {
			break
		}
		if rest.StartsWith(delim) {
			return newBuffer(b.start, at), at, true
		}
		next, err := rest.Skip(1)
		if err != nil {
			break
		}
		search = next
	}
	return Buffer{}, Cursor{}, false
}

// WriteTo writes the buffer to w. When w is a net.Conn or *os.File all spans
// go out in a single writev call; otherwise each span is written in turn.
func (b Buffer) WriteTo(w io.Writer) (n int64, err error) {
	if b.length == 0 {
		return 0, nil
	}

	if useWritev(w) {
		buffers, err := b.netBuffers()
		if err != nil {
			return 0, err
		}
		return buffers.WriteTo(w)
	}

	e := b.Enumerate()
	for e.Next() {
		written, wErr := w.Write(e.Span())
		n += int64(written)
		if wErr != nil {
			return n, wErr
		}
		if written != len(e.Span()) {
			return n, io.ErrShortWrite
		}
	}
	return n, e.Err()
}

// netBuffers collects the spans as net.Buffers. Only slice headers are
// allocated; the bytes are not copied.
func (b Buffer) netBuffers() (net.Buffers, error) {
	var buffers net.Buffers
	e := b.Enumerate()
	for e.Next() {
		buffers = append(buffers, e.Span())
	}
	return buffers, e.Err()
}

// useWritev determines if the writer supports writev() optimization.
// Currently supports net.Conn and *os.File types.
func useWritev(w io.Writer) bool {
	switch w.(type) {
	case net.Conn, *os.File:
		return true
	default:
		return false
	}
}

// SpanEnumerator walks a Buffer one contiguous span at a time:
//
//	e := buf.Enumerate()
//	for e.Next() {
//		consume(e.Span())
//	}
//	if err := e.Err(); err != nil {
//		...
//	}
type SpanEnumerator struct {
	cur  Cursor
	end  Cursor
	pos  Cursor
	span []byte
	err  error
}

// Next advances to the next non-empty span. It returns false at the end of
// the buffer or on error.
func (e *SpanEnumerator) Next() bool {
	if e.err != nil {
		return false
	}
	for {
		span, next, ok, err := tryGetSpan(e.cur, e.end)
		if err != nil {
			e.err = err
			e.span = nil
			return false
		}
		if !ok {
			e.span = nil
			return false
		}
		e.pos = e.cur
		e.cur = next
		if len(span) > 0 {
			e.span = span
			return true
		}
	}
}

// Span returns the current span. It shares memory with the buffer.
func (e *SpanEnumerator) Span() []byte {
	return e.span
}

// Cursor returns the cursor at the first byte of the current span.
func (e *SpanEnumerator) Cursor() Cursor {
	return e.pos
}

// Err returns the error that stopped the enumeration, if any.
func (e *SpanEnumerator) Err() error {
	return e.err
}
