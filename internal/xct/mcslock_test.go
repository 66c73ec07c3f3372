package xct

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquireReader(t *testing.T, p *BlockPool, l *McsRwLock) BlockIndex {
	t.Helper()
	idx, b := p.Allocate()
	require.NotZero(t, idx)
	if !l.TryAcquireReader(b) {
		p.Release(idx)
		return 0
	}
	return idx
}

func acquireWriter(t *testing.T, p *BlockPool, l *McsRwLock) BlockIndex {
	t.Helper()
	idx, b := p.Allocate()
	require.NotZero(t, idx)
	if !l.TryAcquireWriter(b) {
		p.Release(idx)
		return 0
	}
	return idx
}

func TestReaderGrantAndRelease(t *testing.T) {
	var l McsRwLock
	p := NewBlockPool(8)

	idx := acquireReader(t, p, &l)
	require.NotZero(t, idx)
	tassert.True(t, p.Block(idx).IsFinalized())
	tassert.True(t, p.Block(idx).IsGranted())
	tassert.True(t, l.IsLocked())
	tassert.False(t, l.IsWriterLocked())
	tassert.Equal(t, uint32(1), l.ReaderCount())

	l.ReleaseReader(p.Block(idx))
	p.Release(idx)
	tassert.False(t, l.IsLocked())
	tassert.Zero(t, p.Outstanding())
}

func TestReadersStack(t *testing.T) {
	var l McsRwLock
	p := NewBlockPool(8)

	var grants []BlockIndex
	for i := 0; i < 5; i++ {
		idx := acquireReader(t, p, &l)
		require.NotZero(t, idx, "reader %d should stack", i)
		grants = append(grants, idx)
	}
	tassert.Equal(t, uint32(5), l.ReaderCount())

	// Writer is denied while any reader holds.
	tassert.Zero(t, acquireWriter(t, p, &l))

	for i, idx := range grants {
		l.ReleaseReader(p.Block(idx))
		p.Release(idx)
		if i < len(grants)-1 {
			tassert.True(t, l.IsLocked())
		}
	}
	tassert.False(t, l.IsLocked())

	// Last release makes the writer grantable again.
	idx := acquireWriter(t, p, &l)
	require.NotZero(t, idx)
	l.ReleaseWriter(p.Block(idx))
	p.Release(idx)
}

func TestWriterExcludesEverything(t *testing.T) {
	var l McsRwLock
	p := NewBlockPool(8)

	w := acquireWriter(t, p, &l)
	require.NotZero(t, w)
	tassert.True(t, l.IsWriterLocked())
	tassert.True(t, p.Block(w).IsFinalized())
	tassert.True(t, p.Block(w).IsGranted())

	// Both kinds fail immediately; nothing queues, nothing leaks.
	tassert.Zero(t, acquireReader(t, p, &l))
	tassert.Zero(t, acquireWriter(t, p, &l))
	tassert.Equal(t, 1, p.Outstanding())

	l.ReleaseWriter(p.Block(w))
	p.Release(w)
	tassert.False(t, l.IsLocked())
	tassert.Zero(t, p.Outstanding())
}

// Two goroutines hammer the same lock, one as reader, one as writer, and
// record at every grant whether the other class was simultaneously granted.
func TestWriterExclusivitySampled(t *testing.T) {
	var l McsRwLock

	const iters = 20000
	var readersIn, writersIn atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	wg.Add(2)
	go func() { // reader
		defer wg.Done()
		p := NewBlockPool(4)
		for i := 0; i < iters; i++ {
			idx, b := p.Allocate()
			if !l.TryAcquireReader(b) {
				p.Release(idx)
				runtime.Gosched()
				continue
			}
			readersIn.Add(1)
			if writersIn.Load() != 0 {
				violations.Add(1)
			}
			readersIn.Add(-1)
			l.ReleaseReader(b)
			p.Release(idx)
		}
	}()
	go func() { // writer
		defer wg.Done()
		p := NewBlockPool(4)
		for i := 0; i < iters; i++ {
			idx, b := p.Allocate()
			if !l.TryAcquireWriter(b) {
				p.Release(idx)
				runtime.Gosched()
				continue
			}
			writersIn.Add(1)
			if readersIn.Load() != 0 {
				violations.Add(1)
			}
			writersIn.Add(-1)
			l.ReleaseWriter(b)
			p.Release(idx)
		}
	}()
	wg.Wait()

	tassert.Zero(t, violations.Load(), "writer grant coexisted with another grant")
	tassert.False(t, l.IsLocked())
}

// Many goroutines, each with a private pool, cycle random read/write
// attempts over a shared set of locks. Everything must drain back to
// unlocked with no block leaked.
func TestRandomizedContentionNoLeak(t *testing.T) {
	const (
		goroutines = 8
		locks      = 32
		iters      = 5000
	)
	shared := make([]McsRwLock, locks)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p := NewBlockPool(4)
			rng := uint64(id)*2654435761 + 1
			for i := 0; i < iters; i++ {
				rng = rng*6364136223846793005 + 1442695040888963407
				l := &shared[rng%locks]
				idx, b := p.Allocate()
				if id%2 == 0 {
					if l.TryAcquireReader(b) {
						l.ReleaseReader(b)
					}
				} else {
					if l.TryAcquireWriter(b) {
						l.ReleaseWriter(b)
					}
				}
				p.Release(idx)
			}
			if p.Outstanding() != 0 {
				panic("block leak")
			}
		}(g)
	}
	wg.Wait()

	for i := range shared {
		tassert.False(t, shared[i].IsLocked(), "lock %d still held after drain", i)
		tassert.Zero(t, shared[i].ReaderCount())
	}
}
