package zpipe

import "sync/atomic"

// PreservedBuffer owns a private copy of a Buffer's segment chain. The bytes
// are shared with the pipe, not copied: each block is retained, so the data
// stays valid after the reader advances past it. Release must be called once
// the bytes are no longer needed.
type PreservedBuffer struct {
	buf      Buffer
	head     *segment
	released atomic.Bool
}

// Preserve extends the lifetime of the buffer's bytes beyond the next
// PipeReader.AdvanceTo. The source segments become read-only, so the writer
// will not append into their blocks.
func (b Buffer) Preserve() (*PreservedBuffer, error) {
	if b.start.seg == nil {
		return &PreservedBuffer{}, nil
	}

	head, tail, err := cloneChain(b.start, b.end)
	if err != nil {
		return nil, err
	}

	return &PreservedBuffer{
		buf:  newBuffer(Cursor{seg: head, index: head.start}, Cursor{seg: tail, index: tail.end}),
		head: head,
	}, nil
}

// Buffer returns the preserved view. It is valid until Release.
func (p *PreservedBuffer) Buffer() Buffer {
	return p.buf
}

// Release drops the references taken by Preserve. It is safe to call more
// than once; only the first call releases.
func (p *PreservedBuffer) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	releaseChain(p.head)
	p.head = nil
	p.buf = Buffer{}
}

// Close implements io.Closer by calling Release.
func (p *PreservedBuffer) Close() error {
	p.Release()
	return nil
}
