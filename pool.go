package zpipe

import (
	"sync"
	"sync/atomic"
)

const (
	// DefaultBlockSize is the size of blocks handed out by the default pool.
	// One page keeps blocks aligned with what the OS hands out.
	DefaultBlockSize = 4096
)

// Pool rents blocks of memory to a pipe.
//
// Rent must return a block of at least size bytes with a reference count of
// zero. The renter takes ownership by calling Retain; the block goes back to
// its pool when the last reference is released.
type Pool interface {
	Rent(size int) *Block
}

// blockOwner receives blocks whose reference count dropped to zero.
type blockOwner interface {
	returnBlock(b *Block)
}

// Block is a reference-counted slice of rented memory. Segments, preserved
// buffers and callers share a Block by retaining it; every Retain must be
// paired with exactly one Release.
type Block struct {
	data  []byte
	refs  atomic.Int32
	owner blockOwner
}

// newUnpooledBlock allocates a block that is dropped, not pooled, when released.
func newUnpooledBlock(size int) *Block {
	return &Block{data: make([]byte, size)}
}

// Bytes returns the whole block. The slice is only valid while the caller
// holds a reference.
func (b *Block) Bytes() []byte {
	return b.data
}

// Len returns the capacity of the block in bytes.
func (b *Block) Len() int {
	return len(b.data)
}

// Refs returns the current reference count.
func (b *Block) Refs() int32 {
	return b.refs.Load()
}

// Retain adds a reference to the block.
func (b *Block) Retain() {
	b.refs.Add(1)
}

// Release drops a reference. When the count reaches zero the block returns to
// the pool that rented it. Releasing more often than retaining panics.
func (b *Block) Release() {
	n := b.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("zpipe: release of unretained block")
	}
	if b.owner != nil {
		b.owner.returnBlock(b)
	}
}

// HeapPool rents fixed-size blocks recycled through a sync.Pool. Requests
// larger than the block size are served with unpooled, exact-size blocks
// that are left to the garbage collector after release.
type HeapPool struct {
	blocks    sync.Pool
	blockSize int
}

// NewHeapPool creates a heap pool of blocks of blockSize bytes.
// A non-positive blockSize selects DefaultBlockSize.
func NewHeapPool(blockSize int) *HeapPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	p := &HeapPool{blockSize: blockSize}
	p.blocks.New = func() any {
		return &Block{data: make([]byte, blockSize), owner: p}
	}
	return p
}

// defaultPool is shared by pipes created without an explicit Pool.
var defaultPool = NewHeapPool(DefaultBlockSize)

// BlockSize returns the size of pooled blocks.
func (p *HeapPool) BlockSize() int {
	return p.blockSize
}

// Rent returns a block of at least size bytes.
func (p *HeapPool) Rent(size int) *Block {
	if size > p.blockSize {
		return newUnpooledBlock(size)
	}
	return p.blocks.Get().(*Block)
}

func (p *HeapPool) returnBlock(b *Block) {
	p.blocks.Put(b)
}
