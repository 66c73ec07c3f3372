package xct

import "sync/atomic"

// McsRwLock is the per-record reader/writer lock word, the try variant of the
// queue-node design: each acquisition attempt owns a private block so the
// shared word sees exactly one atomic operation per attempt, and an
// unavailable lock fails immediately instead of queuing the caller.
//
// Word layout (32 bits): bit 31 = writer held, bits 30..0 = granted readers.
// A writer grant and any other grant are mutually exclusive; readers stack
// freely while no writer holds.
//
// Go's sync/atomic operations are sequentially consistent, which subsumes the
// acquire fence a successful grant needs and the release fence an unlock
// needs. State written by the previous holder is visible to the next.
type McsRwLock struct {
	word atomic.Uint32
}

const (
	writerFlag uint32 = 1 << 31
	readerMask        = writerFlag - 1
	readerOne  uint32 = 1

	// CAS retries resolve races on the word update itself (two readers
	// bumping the count at once), never availability. A held lock exits
	// the loop on the first iteration.
	maxCASRetries = 8
)

// IsLocked reports whether any holder, reader or writer, is granted.
func (l *McsRwLock) IsLocked() bool { return l.word.Load() != 0 }

// IsWriterLocked reports whether a writer currently holds the lock.
func (l *McsRwLock) IsWriterLocked() bool { return l.word.Load()&writerFlag != 0 }

// ReaderCount returns the number of currently granted readers.
func (l *McsRwLock) ReaderCount() uint32 { return l.word.Load() & readerMask }

// TryAcquireReader registers the caller as one more granted reader iff no
// writer holds the lock. The block is finalized before return either way;
// on failure the caller recycles it.
func (l *McsRwLock) TryAcquireReader(b *McsRwBlock) bool {
	assert(b.state == blockPending, "acquire on a non-pending block")
	b.mode = modeReader
	for i := 0; i < maxCASRetries; i++ {
		cur := l.word.Load()
		if cur&writerFlag != 0 {
			b.finalize(false)
			return false
		}
		assert(cur&readerMask != readerMask, "reader count overflow")
		if l.word.CompareAndSwap(cur, cur+readerOne) {
			b.finalize(true)
			return true
		}
	}
	// Lost every CAS race. Report unavailable; the caller's retry policy
	// decides what happens next.
	b.finalize(false)
	return false
}

// TryAcquireWriter registers the caller as the sole writer iff no holder of
// any kind exists. One CAS decides: the word must go 0 -> writer, and a
// non-zero word is exactly "unavailable".
func (l *McsRwLock) TryAcquireWriter(b *McsRwBlock) bool {
	assert(b.state == blockPending, "acquire on a non-pending block")
	b.mode = modeWriter
	if l.word.CompareAndSwap(0, writerFlag) {
		b.finalize(true)
		return true
	}
	b.finalize(false)
	return false
}

// ReleaseReader removes one granted reader. The block must be the one
// returned granted by TryAcquireReader on this lock from this thread.
func (l *McsRwLock) ReleaseReader(b *McsRwBlock) {
	assert(b.state == blockGranted, "releasing a non-granted block")
	assert(b.mode == modeReader, "reader release with a writer block")
	now := l.word.Add(^uint32(readerOne - 1)) // subtract one reader
	assert(now&readerMask != readerMask, "reader release underflow")
	assert(now&writerFlag == 0, "writer appeared while readers held")
	b.state = blockReleased
}

// ReleaseWriter clears writer ownership. Same ownership contract as
// ReleaseReader.
func (l *McsRwLock) ReleaseWriter(b *McsRwBlock) {
	assert(b.state == blockGranted, "releasing a non-granted block")
	assert(b.mode == modeWriter, "writer release with a reader block")
	swapped := l.word.CompareAndSwap(writerFlag, 0)
	assert(swapped, "writer release without writer grant")
	b.state = blockReleased
}
