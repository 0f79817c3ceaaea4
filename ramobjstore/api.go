// Package ramobjstore provides an in-memory ObjectBackend: each object is a
// sparse set of extents kept in an ordered tree. It backs the block cache
// in tests and benchmarks the way an emulated object store would, including
// fault injection for exercising the retry and error paths.
package ramobjstore

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/NVIDIA/blockcache/blockcache"
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
)

type ramExtentStruct struct {
	objectOffset uint64
	data         []byte
}

func (ramExtent *ramExtentStruct) Less(than btree.Item) bool {
	return ramExtent.objectOffset < than.(*ramExtentStruct).objectOffset
}

func (ramExtent *ramExtentStruct) end() uint64 {
	return ramExtent.objectOffset + uint64(len(ramExtent.data))
}

type ramObjectStruct struct {
	extents *btree.BTree // of *ramExtentStruct ordered by objectOffset
}

// RamObjectStore is an in-memory sparse object store implementing
// blockcache.ObjectBackend. Completions are delivered on their own
// goroutines, as a real backend's would be.
type RamObjectStore struct {
	sync.Mutex
	objects          map[string]*ramObjectStruct
	failNextReadErr  error
	failNextWriteErr error
	delayNextRead    time.Duration
	readCount        uint64
	writeCount       uint64
}

// New returns an empty RamObjectStore.
func New() (store *RamObjectStore) {
	store = &RamObjectStore{objects: make(map[string]*ramObjectStruct)}
	return
}

// FailNextRead arms a one-shot read fault.
func (store *RamObjectStore) FailNextRead(err error) {
	store.Lock()
	store.failNextReadErr = err
	store.Unlock()
}

// FailNextWrite arms a one-shot write fault.
func (store *RamObjectStore) FailNextWrite(err error) {
	store.Lock()
	store.failNextWriteErr = err
	store.Unlock()
}

// DelayNextRead arms a one-shot completion delay on the next read, for
// exercising callers racing an in-flight fill.
func (store *RamObjectStore) DelayNextRead(delay time.Duration) {
	store.Lock()
	store.delayNextRead = delay
	store.Unlock()
}

// ReadCount and WriteCount report how many backend operations have been
// issued (including ones that were failed by fault injection).

func (store *RamObjectStore) ReadCount() (readCount uint64) {
	store.Lock()
	readCount = store.readCount
	store.Unlock()
	return
}

func (store *RamObjectStore) WriteCount() (writeCount uint64) {
	store.Lock()
	writeCount = store.writeCount
	store.Unlock()
	return
}

// ObjectNames returns the names of the objects that have been written.
func (store *RamObjectStore) ObjectNames() (objectNames []string) {
	store.Lock()
	objectNames = make([]string, 0, len(store.objects))
	for objectName := range store.objects {
		objectNames = append(objectNames, objectName)
	}
	store.Unlock()
	return
}

// ReadObject flattens an object into a contiguous byte slice of the given
// length, zero filling its holes. Test convenience.
func (store *RamObjectStore) ReadObject(objectName string, length uint64) (data []byte, exists bool) {
	store.Lock()
	defer store.Unlock()

	object, exists := store.objects[objectName]
	if !exists {
		return
	}

	data = make([]byte, length)
	object.extents.Ascend(func(item btree.Item) bool {
		ramExtent := item.(*ramExtentStruct)
		if ramExtent.objectOffset >= length {
			return false
		}
		copyLen := uint64(len(ramExtent.data))
		if ramExtent.objectOffset+copyLen > length {
			copyLen = length - ramExtent.objectOffset
		}
		copy(data[ramExtent.objectOffset:ramExtent.objectOffset+copyLen], ramExtent.data[:copyLen])
		return true
	})
	return
}

// ReadSparse implements blockcache.ObjectBackend.
func (store *RamObjectStore) ReadSparse(objectName string, objectOffset uint64, length uint64, snapID uint64, completion blockcache.ReadSparseCompletion) {
	store.Lock()
	store.readCount++
	delay := store.delayNextRead
	store.delayNextRead = 0
	if 0 != delay {
		deliver := completion
		completion = func(result *blockcache.SparseReadResult, err error) {
			time.Sleep(delay)
			deliver(result, err)
		}
	}
	if nil != store.failNextReadErr {
		err := store.failNextReadErr
		store.failNextReadErr = nil
		store.Unlock()
		logger.Tracef("ramobjstore: injecting read failure for object %s: %v", objectName, err)
		go completion(nil, err)
		return
	}

	object, exists := store.objects[objectName]
	if !exists {
		store.Unlock()
		go completion(nil, blunder.NewError(blunder.NotFoundError, "object %s not found", objectName))
		return
	}

	result := &blockcache.SparseReadResult{
		Extents: make([]blockcache.SparseExtent, 0),
		Data:    make([]byte, 0),
	}
	end := objectOffset + length
	object.extents.Ascend(func(item btree.Item) bool {
		ramExtent := item.(*ramExtentStruct)
		if ramExtent.objectOffset >= end {
			return false
		}
		if ramExtent.end() <= objectOffset {
			return true
		}
		overlapLo := max64(ramExtent.objectOffset, objectOffset)
		overlapHi := min64(ramExtent.end(), end)
		result.Extents = append(result.Extents, blockcache.SparseExtent{
			ObjectOffset: overlapLo,
			Length:       overlapHi - overlapLo,
		})
		result.Data = append(result.Data,
			ramExtent.data[overlapLo-ramExtent.objectOffset:overlapHi-ramExtent.objectOffset]...)
		return true
	})
	store.Unlock()

	go completion(result, nil)
}

// Write implements blockcache.ObjectBackend: overlapping extents are
// trimmed or replaced so the object always reflects the latest bytes.
func (store *RamObjectStore) Write(objectName string, objectOffset uint64, data []byte, snapc blockcache.SnapContext, completion blockcache.WriteCompletion) {
	store.Lock()
	store.writeCount++
	if nil != store.failNextWriteErr {
		err := store.failNextWriteErr
		store.failNextWriteErr = nil
		store.Unlock()
		logger.Tracef("ramobjstore: injecting write failure for object %s: %v", objectName, err)
		go completion(err)
		return
	}

	object, exists := store.objects[objectName]
	if !exists {
		object = &ramObjectStruct{extents: btree.New(8)}
		store.objects[objectName] = object
	}

	end := objectOffset + uint64(len(data))

	overlapping := make([]*ramExtentStruct, 0)
	object.extents.Ascend(func(item btree.Item) bool {
		ramExtent := item.(*ramExtentStruct)
		if ramExtent.objectOffset >= end {
			return false
		}
		if ramExtent.end() > objectOffset {
			overlapping = append(overlapping, ramExtent)
		}
		return true
	})

	for _, ramExtent := range overlapping {
		object.extents.Delete(ramExtent)
		if ramExtent.objectOffset < objectOffset {
			object.extents.ReplaceOrInsert(&ramExtentStruct{
				objectOffset: ramExtent.objectOffset,
				data:         append([]byte(nil), ramExtent.data[:objectOffset-ramExtent.objectOffset]...),
			})
		}
		if ramExtent.end() > end {
			object.extents.ReplaceOrInsert(&ramExtentStruct{
				objectOffset: end,
				data:         append([]byte(nil), ramExtent.data[end-ramExtent.objectOffset:]...),
			})
		}
	}

	object.extents.ReplaceOrInsert(&ramExtentStruct{
		objectOffset: objectOffset,
		data:         append([]byte(nil), data...),
	})
	store.Unlock()

	go completion(nil)
}

func max64(a uint64, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a uint64, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
