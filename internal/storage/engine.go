package storage

import (
	"context"

	"github.com/myuser/xctstore/internal/thread"
	"github.com/myuser/xctstore/internal/xct"
)

// Engine is the record-store surface procedures run against. Every data
// operation takes the worker's thread.Context because record access is
// serialized by per-record try-locks drawn from that context's block pool.
type Engine interface {
	// Get reads a record under a reader grant.
	Get(ctx context.Context, tc *thread.Context, key []byte) ([]byte, error)

	// Put writes a record under the writer grant, stamping a fresh version.
	Put(ctx context.Context, tc *thread.Context, key, value []byte) error

	// Delete marks a record deleted under the writer grant.
	Delete(ctx context.Context, tc *thread.Context, key []byte) error

	// Scan iterates records in key order. start is inclusive, end is
	// exclusive; nil end means no upper bound. handler returning false
	// stops iteration. Headers are observed without grants, so this is a
	// diagnostic view, not a consistent snapshot.
	Scan(start, end []byte, handler func(key []byte, header *xct.RwLockableXctID, value []byte) bool) error

	// Close releases underlying resources.
	Close() error
}
