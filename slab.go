package zpipe

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultBlocksPerSlab is the number of blocks carved out of one slab.
	// 32 blocks of 4096 bytes make a 128KiB mapping.
	DefaultBlocksPerSlab = 32
)

// SlabPoolOptions configures a SlabPool.
type SlabPoolOptions struct {
	// Logger overrides the package logger.
	Logger *zap.Logger

	// BlockSize is the size of each block. Defaults to DefaultBlockSize.
	BlockSize int

	// BlocksPerSlab is the number of blocks allocated together.
	// Defaults to DefaultBlocksPerSlab.
	BlocksPerSlab int

	// MaxBlocks bounds the number of pooled blocks leased at once.
	// Rents beyond the budget are served with unpooled heap blocks.
	// Zero means unbounded.
	MaxBlocks int64
}

// SlabStats is a snapshot of a SlabPool for diagnostics.
type SlabStats struct {
	Slabs  int // mapped slabs
	Free   int // pooled blocks ready to rent
	Leased int // pooled blocks currently rented
}

// SlabPool rents fixed-size blocks carved out of large slabs of anonymous
// memory. Slabs are mapped with mmap on unix platforms and never move; they
// are only unmapped by Close.
//
// SlabPool is safe for concurrent use.
type SlabPool struct {
	log    *zap.Logger
	budget *semaphore.Weighted

	free  []*Block
	slabs [][]byte

	blockSize     int
	blocksPerSlab int
	leased        int

	mu     sync.Mutex
	closed bool
}

// NewSlabPool creates an empty slab pool. No memory is mapped until the
// first Rent.
func NewSlabPool(opts SlabPoolOptions) (*SlabPool, error) {
	if opts.BlockSize < 0 {
		return nil, outOfRange("NewSlabPool", "negative block size %d", opts.BlockSize)
	}
	if opts.BlocksPerSlab < 0 {
		return nil, outOfRange("NewSlabPool", "negative blocks per slab %d", opts.BlocksPerSlab)
	}
	if opts.MaxBlocks < 0 {
		return nil, outOfRange("NewSlabPool", "negative block budget %d", opts.MaxBlocks)
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlocksPerSlab == 0 {
		opts.BlocksPerSlab = DefaultBlocksPerSlab
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}

	p := &SlabPool{
		log:           opts.Logger,
		blockSize:     opts.BlockSize,
		blocksPerSlab: opts.BlocksPerSlab,
	}
	if opts.MaxBlocks > 0 {
		p.budget = semaphore.NewWeighted(opts.MaxBlocks)
	}
	return p, nil
}

// BlockSize returns the size of pooled blocks.
func (p *SlabPool) BlockSize() int {
	return p.blockSize
}

// Rent returns a block of at least size bytes. Oversized requests, requests
// over the MaxBlocks budget, and requests after Close get unpooled blocks.
func (p *SlabPool) Rent(size int) *Block {
	if size > p.blockSize {
		return newUnpooledBlock(size)
	}
	if p.budget != nil && !p.budget.TryAcquire(1) {
		return newUnpooledBlock(p.blockSize)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseBudget()
		return newUnpooledBlock(p.blockSize)
	}
	if len(p.free) == 0 {
		if err := p.growLocked(); err != nil {
			p.mu.Unlock()
			p.releaseBudget()
			p.log.Error("slab allocation failed",
				zap.Int("bytes", p.blockSize*p.blocksPerSlab),
				zap.Error(err))
			return newUnpooledBlock(p.blockSize)
		}
	}
	last := len(p.free) - 1
	b := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	p.leased++
	p.mu.Unlock()
	return b
}

func (p *SlabPool) growLocked() error {
	mem, err := mapSlab(p.blockSize * p.blocksPerSlab)
	if err != nil {
		return err
	}
	p.slabs = append(p.slabs, mem)
	for i := 0; i < p.blocksPerSlab; i++ {
		off := i * p.blockSize
		p.free = append(p.free, &Block{
			data:  mem[off : off+p.blockSize : off+p.blockSize],
			owner: p,
		})
	}
	p.log.Debug("slab mapped",
		zap.Int("slabs", len(p.slabs)),
		zap.Int("block_size", p.blockSize),
		zap.Int("blocks", p.blocksPerSlab))
	return nil
}

func (p *SlabPool) returnBlock(b *Block) {
	p.mu.Lock()
	p.free = append(p.free, b)
	p.leased--
	p.mu.Unlock()
	p.releaseBudget()
}

func (p *SlabPool) releaseBudget() {
	if p.budget != nil {
		p.budget.Release(1)
	}
}

// Stats returns a snapshot of the pool's occupancy.
func (p *SlabPool) Stats() SlabStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SlabStats{
		Slabs:  len(p.slabs),
		Free:   len(p.free),
		Leased: p.leased,
	}
}

// Close unmaps every slab. It fails while any pooled block is still leased,
// since unmapping would invalidate memory a reader may be looking at.
// Close is idempotent.
func (p *SlabPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if p.leased > 0 {
		return invalidState("SlabPool.Close", "%d blocks still leased", p.leased)
	}

	p.closed = true
	var firstErr error
	for i, mem := range p.slabs {
		if err := unmapSlab(mem); err != nil && firstErr == nil {
			firstErr = err
		}
		p.slabs[i] = nil
	}
	p.slabs = nil
	p.free = nil
	if firstErr != nil {
		return &Error{Op: "SlabPool.Close", Kind: KindInvalidState, Detail: "munmap failed", Cause: firstErr}
	}
	return nil
}
