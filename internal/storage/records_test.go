package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myuser/xctstore/internal/thread"
	"github.com/myuser/xctstore/internal/xct"
)

func TestPutGetDelete(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()
	tc := thread.NewContext(0, 8)

	_, err := s.Get(ctx, tc, []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, tc, []byte("k1"), []byte("v1")))
	got, err := s.Get(ctx, tc, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Put(ctx, tc, []byte("k1"), []byte("v2")))
	got, err = s.Get(ctx, tc, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, tc, []byte("k1")))
	_, err = s.Get(ctx, tc, []byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound)

	// The slot survives deletion; only the status bit flips.
	assert.Equal(t, 1, s.Len())

	// No grants outstanding after any of this.
	assert.Zero(t, tc.OutstandingBlocks())
}

func TestVersionStamps(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()
	tc := thread.NewContext(0, 8)

	require.NoError(t, s.Put(ctx, tc, []byte("k"), []byte("a")))
	rec := s.lookup([]byte("k"))
	require.NotNil(t, rec)
	assert.True(t, rec.Header.ID.IsValid())
	firstEpoch := rec.Header.ID.Epoch()
	assert.Equal(t, uint32(1), rec.Header.ID.Ordinal())

	require.NoError(t, s.Put(ctx, tc, []byte("k"), []byte("b")))
	assert.Greater(t, rec.Header.ID.Epoch(), firstEpoch)
	assert.Equal(t, uint32(2), rec.Header.ID.Ordinal())
	assert.False(t, rec.Header.IsKeylocked())
}

func TestGetBusyWhenWriterHolds(t *testing.T) {
	s := NewStore()
	defer s.Close()
	s.lockRetries = 3
	s.lockBackoff = 1 // keep the test fast

	ctx := context.Background()
	writer := thread.NewContext(0, 8)
	reader := thread.NewContext(1, 8)

	require.NoError(t, s.Put(ctx, writer, []byte("k"), []byte("v")))

	rec := s.lookup([]byte("k"))
	block := writer.TryAcquireWriterLock(rec.Header.KeyLock())
	require.NotZero(t, block)

	_, err := s.Get(ctx, reader, []byte("k"))
	assert.ErrorIs(t, err, ErrLockBusy)
	err = s.Put(ctx, reader, []byte("k"), []byte("w"))
	assert.ErrorIs(t, err, ErrLockBusy)

	writer.ReleaseWriterLock(rec.Header.KeyLock(), block)

	got, err := s.Get(ctx, reader, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Zero(t, reader.OutstandingBlocks())
}

func TestReadersDoNotBlockReaders(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()
	a := thread.NewContext(0, 8)
	b := thread.NewContext(1, 8)

	require.NoError(t, s.Put(ctx, a, []byte("k"), []byte("v")))

	rec := s.lookup([]byte("k"))
	block := a.TryAcquireReaderLock(rec.Header.KeyLock())
	require.NotZero(t, block)

	// A concurrent reader grant does not interfere.
	got, err := s.Get(ctx, b, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	a.ReleaseReaderLock(rec.Header.KeyLock(), block)
}

func TestScanOrder(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()
	tc := thread.NewContext(0, 8)

	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, s.Put(ctx, tc, []byte(k), []byte("v-"+k)))
	}

	var keys []string
	require.NoError(t, s.Scan([]byte("a"), []byte("c"), func(key []byte, hdr *xct.RwLockableXctID, val []byte) bool {
		keys = append(keys, string(key))
		assert.True(t, hdr.ID.IsValid())
		return true
	}))
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestCommitLogRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit.log")
	ctx := context.Background()

	s, err := NewStoreWithLog(path)
	require.NoError(t, err)
	tc := thread.NewContext(0, 8)
	require.NoError(t, s.Put(ctx, tc, []byte("k1"), []byte("v1")))
	require.NoError(t, s.Put(ctx, tc, []byte("k2"), []byte("v2")))
	require.NoError(t, s.Delete(ctx, tc, []byte("k2")))
	require.NoError(t, s.Close())

	s2, err := NewStoreWithLog(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, tc, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = s2.Get(ctx, tc, []byte("k2"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Lock state never persists: everything comes back unlocked.
	require.NoError(t, s2.Scan(nil, nil, func(_ []byte, hdr *xct.RwLockableXctID, _ []byte) bool {
		assert.False(t, hdr.IsKeylocked())
		return true
	}))
}
