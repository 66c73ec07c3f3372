package thread

import (
	"github.com/myuser/xctstore/internal/xct"
)

// Context is one worker's execution state: its id and its private block
// pool. A Context is bound to exactly one goroutine for its lifetime; none
// of its methods are safe to call from anywhere else. Block indices it hands
// out are meaningless on any other Context.
type Context struct {
	id     int
	blocks *xct.BlockPool
}

// NewContext builds a context with the given block-pool depth. Depth bounds
// how many grants one worker may hold at once, not how many acquire/release
// cycles it may run; released blocks recycle.
func NewContext(id, poolDepth int) *Context {
	return &Context{
		id:     id,
		blocks: xct.NewBlockPool(poolDepth),
	}
}

// ID returns the worker id, stable for the life of the pool.
func (c *Context) ID() int { return c.id }

// TryAcquireReaderLock attempts a reader grant on l. Nonzero return is a
// granted, finalized block; zero means the lock was unavailable and nothing
// is held. Never blocks; retry policy belongs to the caller.
func (c *Context) TryAcquireReaderLock(l *xct.McsRwLock) xct.BlockIndex {
	idx, b := c.blocks.Allocate()
	if idx == 0 {
		return 0
	}
	if !l.TryAcquireReader(b) {
		c.blocks.Release(idx)
		return 0
	}
	return idx
}

// TryAcquireWriterLock attempts the sole-writer grant on l. Same contract as
// TryAcquireReaderLock.
func (c *Context) TryAcquireWriterLock(l *xct.McsRwLock) xct.BlockIndex {
	idx, b := c.blocks.Allocate()
	if idx == 0 {
		return 0
	}
	if !l.TryAcquireWriter(b) {
		c.blocks.Release(idx)
		return 0
	}
	return idx
}

// ReleaseReaderLock ends a reader grant. block must be the exact value the
// matching TryAcquireReaderLock returned on this context.
func (c *Context) ReleaseReaderLock(l *xct.McsRwLock, block xct.BlockIndex) {
	l.ReleaseReader(c.blocks.Block(block))
	c.blocks.Release(block)
}

// ReleaseWriterLock ends the writer grant.
func (c *Context) ReleaseWriterLock(l *xct.McsRwLock, block xct.BlockIndex) {
	l.ReleaseWriter(c.blocks.Block(block))
	c.blocks.Release(block)
}

// Block exposes one of this context's blocks for diagnostic reads
// (IsFinalized, IsGranted).
func (c *Context) Block(idx xct.BlockIndex) *xct.McsRwBlock {
	return c.blocks.Block(idx)
}

// OutstandingBlocks reports how many blocks are currently allocated, for
// leak checks in tests.
func (c *Context) OutstandingBlocks() int { return c.blocks.Outstanding() }
