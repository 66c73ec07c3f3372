package xct

// BlockIndex is a handle into a thread-private block pool. Zero is reserved
// and means "no lock obtained"; usable indices start at 1.
type BlockIndex uint32

const (
	blockFree uint8 = iota
	blockPending
	blockGranted
	blockDenied
	blockReleased
)

const (
	modeNone uint8 = iota
	modeReader
	modeWriter
)

// McsRwBlock records one lock-acquisition attempt. It never leaves the
// allocating thread, so plain fields are enough; the shared state lives in
// the lock word.
type McsRwBlock struct {
	state uint8
	mode  uint8
}

// IsFinalized reports whether the grant decision is complete. In the try
// variant every attempt is finalized synchronously inside the acquire call.
func (b *McsRwBlock) IsFinalized() bool {
	return b.state == blockGranted || b.state == blockDenied
}

// IsGranted reports whether the attempt succeeded.
func (b *McsRwBlock) IsGranted() bool { return b.state == blockGranted }

func (b *McsRwBlock) finalize(granted bool) {
	if granted {
		b.state = blockGranted
	} else {
		b.state = blockDenied
	}
}

// BlockPool is a bounded free-list of blocks owned by one worker context.
// Never shared: allocation and release are plain slice operations with no
// synchronization, valid only on the owning goroutine.
type BlockPool struct {
	blocks []McsRwBlock
	free   []BlockIndex
}

// NewBlockPool sizes the pool for the maximum concurrent acquire depth of
// one worker. Index 0 exists but is never handed out.
func NewBlockPool(capacity int) *BlockPool {
	p := &BlockPool{
		blocks: make([]McsRwBlock, capacity+1),
		free:   make([]BlockIndex, 0, capacity),
	}
	for i := capacity; i >= 1; i-- {
		p.free = append(p.free, BlockIndex(i))
	}
	return p
}

// Capacity returns the number of usable blocks.
func (p *BlockPool) Capacity() int { return len(p.blocks) - 1 }

// Outstanding returns how many blocks are currently allocated.
func (p *BlockPool) Outstanding() int { return p.Capacity() - len(p.free) }

// Allocate draws the next free block and stamps it pending. Returns (0, nil)
// on exhaustion, which is a caller-side depth-contract violation; the debug
// build asserts, the release build degrades to a deny.
func (p *BlockPool) Allocate() (BlockIndex, *McsRwBlock) {
	if len(p.free) == 0 {
		assert(false, "block pool exhausted: acquire depth exceeds pool capacity")
		return 0, nil
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b := &p.blocks[idx]
	assert(b.state == blockFree, "allocated block not free")
	b.state = blockPending
	b.mode = modeNone
	return idx, b
}

// Release returns a block to the free list. Denied blocks come back from the
// acquire path itself; granted blocks come back through the matching lock
// release.
func (p *BlockPool) Release(idx BlockIndex) {
	assert(idx != 0 && int(idx) < len(p.blocks), "release of out-of-range block index")
	b := &p.blocks[idx]
	assert(b.state == blockDenied || b.state == blockReleased,
		"release of a block still pending or granted")
	b.state = blockFree
	b.mode = modeNone
	p.free = append(p.free, idx)
}

// Block exposes a block for diagnostic inspection (IsFinalized/IsGranted).
// Read-only from the caller's perspective.
func (p *BlockPool) Block(idx BlockIndex) *McsRwBlock {
	assert(idx != 0 && int(idx) < len(p.blocks), "diagnostic access to out-of-range block")
	return &p.blocks[idx]
}
