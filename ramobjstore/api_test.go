package ramobjstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/blockcache/blockcache"
	"github.com/NVIDIA/blockcache/blunder"
)

func doReadSparse(t *testing.T, store *RamObjectStore, objectName string, objectOffset uint64, length uint64) (result *blockcache.SparseReadResult, err error) {
	doneChan := make(chan struct{})
	store.ReadSparse(objectName, objectOffset, length, 0, func(readResult *blockcache.SparseReadResult, readErr error) {
		result = readResult
		err = readErr
		close(doneChan)
	})
	select {
	case <-doneChan:
	case <-time.After(5 * time.Second):
		t.Fatalf("ReadSparse() timed out")
	}
	return
}

func doWrite(t *testing.T, store *RamObjectStore, objectName string, objectOffset uint64, data []byte) {
	doneChan := make(chan error, 1)
	store.Write(objectName, objectOffset, data, blockcache.SnapContext{}, func(writeErr error) {
		doneChan <- writeErr
	})
	select {
	case err := <-doneChan:
		require.NoError(t, err, "Write() failed")
	case <-time.After(5 * time.Second):
		t.Fatalf("Write() timed out")
	}
}

func TestNotFound(t *testing.T) {
	store := New()

	_, err := doReadSparse(t, store, "missing", 0, 4096)
	require.True(t, blunder.Is(err, blunder.NotFoundError), "expected NotFoundError, got %v", err)
}

func TestSparseReadWithHoles(t *testing.T) {
	store := New()

	doWrite(t, store, "obj", 4096, []byte{1, 2, 3, 4})
	doWrite(t, store, "obj", 12288, []byte{5, 6})

	result, err := doReadSparse(t, store, "obj", 0, 16384)
	require.NoError(t, err)
	require.Len(t, result.Extents, 2)
	assert.Equal(t, uint64(4096), result.Extents[0].ObjectOffset)
	assert.Equal(t, uint64(4), result.Extents[0].Length)
	assert.Equal(t, uint64(12288), result.Extents[1].ObjectOffset)
	assert.Equal(t, uint64(2), result.Extents[1].Length)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, result.Data)
}

func TestReadClipsToRange(t *testing.T) {
	store := New()

	doWrite(t, store, "obj", 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	result, err := doReadSparse(t, store, "obj", 2, 4)
	require.NoError(t, err)
	require.Len(t, result.Extents, 1)
	assert.Equal(t, uint64(2), result.Extents[0].ObjectOffset)
	assert.Equal(t, uint64(4), result.Extents[0].Length)
	assert.Equal(t, []byte{3, 4, 5, 6}, result.Data)
}

func TestOverwriteMergesExtents(t *testing.T) {
	store := New()

	doWrite(t, store, "obj", 0, []byte{1, 1, 1, 1, 1, 1, 1, 1})
	doWrite(t, store, "obj", 2, []byte{2, 2, 2, 2})

	data, exists := store.ReadObject("obj", 8)
	require.True(t, exists)
	assert.Equal(t, []byte{1, 1, 2, 2, 2, 2, 1, 1}, data)

	// an overwrite reaching past the old extent extends the object
	doWrite(t, store, "obj", 6, []byte{3, 3, 3, 3})
	data, _ = store.ReadObject("obj", 10)
	assert.Equal(t, []byte{1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, data)
}

func TestFaultInjection(t *testing.T) {
	store := New()

	store.FailNextWrite(blunder.NewError(blunder.TimedOutError, "injected"))
	doneChan := make(chan error, 1)
	store.Write("obj", 0, []byte{1}, blockcache.SnapContext{}, func(writeErr error) {
		doneChan <- writeErr
	})
	err := <-doneChan
	require.True(t, blunder.Is(err, blunder.TimedOutError), "expected injected TimedOutError, got %v", err)

	// one-shot: the next write succeeds
	doWrite(t, store, "obj", 0, []byte{1})

	store.FailNextRead(blunder.NewError(blunder.IOError, "injected"))
	_, err = doReadSparse(t, store, "obj", 0, 1)
	require.True(t, blunder.Is(err, blunder.IOError), "expected injected IOError, got %v", err)

	assert.Equal(t, uint64(2), store.WriteCount())
	assert.Len(t, store.ObjectNames(), 1)
}
