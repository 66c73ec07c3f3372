// Package xct holds the record-level concurrency-control core: the packed
// version word each record carries, the reader/writer try-lock embedded next
// to it, and the thread-private blocks that track acquisition attempts.
package xct

import (
	"fmt"
	"sync/atomic"
)

// XctID is the packed per-record version word.
//
// Layout (64 bits):
//
//	63      valid
//	62      deleted
//	61      moved
//	60      reserved
//	59..32  epoch (28 bits, coarse global version)
//	31..0   ordinal (sequence within the epoch)
//
// Locking never touches these bits. The lock lives in a separate word of the
// same header (RwLockableXctID) purely for cache locality; the version path
// and the lock path are orthogonal.
type XctID struct {
	word uint64
}

const (
	flagValid   uint64 = 1 << 63
	flagDeleted uint64 = 1 << 62
	flagMoved   uint64 = 1 << 61

	epochBits   = 28
	epochShift  = 32
	epochMask   = (uint64(1)<<epochBits - 1) << epochShift
	ordinalMask = uint64(1)<<32 - 1
)

// MaxEpoch is the largest epoch an XctID can carry.
const MaxEpoch = uint32(1)<<epochBits - 1

// Reset clears the word to the canonical empty state: invalid, not deleted,
// not moved, epoch/ordinal zero.
func (id *XctID) Reset() { id.word = 0 }

func (id *XctID) IsValid() bool   { return id.word&flagValid != 0 }
func (id *XctID) IsDeleted() bool { return id.word&flagDeleted != 0 }
func (id *XctID) IsMoved() bool   { return id.word&flagMoved != 0 }

// Epoch returns the coarse version component.
func (id *XctID) Epoch() uint32 {
	return uint32((id.word & epochMask) >> epochShift)
}

// Ordinal returns the within-epoch sequence component.
func (id *XctID) Ordinal() uint32 {
	return uint32(id.word & ordinalMask)
}

// Store publishes a new version stamp. Only the commit/versioning path calls
// this, and only while holding the record's writer lock.
func (id *XctID) Store(epoch, ordinal uint32) {
	assert(epoch <= MaxEpoch, "epoch overflows the 28-bit field")
	w := flagValid | uint64(epoch)<<epochShift | uint64(ordinal)
	// Preserve deleted/moved: version bumps and status changes are separate.
	w |= id.word & (flagDeleted | flagMoved)
	id.word = w
}

// SetDeleted / ClearDeleted flip the deleted flag. Writer lock required.
func (id *XctID) SetDeleted()   { id.word |= flagDeleted }
func (id *XctID) ClearDeleted() { id.word &^= flagDeleted }

// SetMoved marks the record as relocated/superseded. Writer lock required.
func (id *XctID) SetMoved() { id.word |= flagMoved }

func (id *XctID) String() string {
	return fmt.Sprintf("XctID{epoch=%d ordinal=%d valid=%v deleted=%v moved=%v}",
		id.Epoch(), id.Ordinal(), id.IsValid(), id.IsDeleted(), id.IsMoved())
}

// RwLockableXctID is the lock-carrying record header: one version word plus
// one embedded reader/writer try-lock, 1:1 per record slot. Composition, not
// embedding of behavior: the lock knows nothing about the version bits and
// vice versa.
type RwLockableXctID struct {
	ID   XctID
	lock McsRwLock
}

// Reset restores the header to the initial state: invalid identifier and an
// unlocked key lock. Callers must guarantee no grant is outstanding.
func (h *RwLockableXctID) Reset() {
	h.ID.Reset()
	h.lock.word.Store(0)
}

// KeyLock exposes the embedded lock word for the lock primitive. No other
// code may mutate it.
func (h *RwLockableXctID) KeyLock() *McsRwLock { return &h.lock }

// IsKeylocked reports whether the lock currently has at least one granted
// holder, reader or writer. Independent of the identifier's own bits.
func (h *RwLockableXctID) IsKeylocked() bool { return h.lock.IsLocked() }

// NextEpoch is a process-wide epoch counter for version stamps. The real
// epoch advances on coarse engine boundaries; a monotonic counter gives the
// same ordering guarantee in-process.
type EpochCounter struct {
	cur atomic.Uint32
}

// Advance returns the next epoch value, wrapping inside the 28-bit field.
func (e *EpochCounter) Advance() uint32 {
	return e.cur.Add(1) & MaxEpoch
}

// Current returns the most recently issued epoch.
func (e *EpochCounter) Current() uint32 {
	return e.cur.Load() & MaxEpoch
}
