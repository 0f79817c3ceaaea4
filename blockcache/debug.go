package blockcache

import (
	"sync/atomic"
)

// Test hooks. These mirror the invariants the cache maintains internally so
// tests can assert them from outside the package.

// ValidateState checks the CAR directory-size bounds and that the dirty
// counter matches the dirty FIFO length.
func ValidateState() (valid bool) {
	valid = globals.carState.validate()
	if !valid {
		return
	}

	globals.dirtyPageLock.Lock()
	valid = globals.dirtyPageState.validateFIFO()
	globals.dirtyPageLock.Unlock()
	return
}

// DirtyPageCount returns the current number of dirty pages.
func DirtyPageCount() (numPages uint32) {
	numPages = globals.dirtyPageState.getDirtyPages()
	return
}

// InflightPageCount returns the number of pages being filled by reads or
// carried by in-flight writebacks.
func InflightPageCount() (numPages int64) {
	numPages = atomic.LoadInt64(&globals.inflightPages)
	return
}

// NumCachedPages returns the number of populated pages in an image's index.
func NumCachedPages(imageID uint64) (numPages int) {
	_, tree, _, err := fetchImage(imageID)
	if nil != err {
		return
	}

	globals.treeLock.Lock()
	numPages = tree.len()
	globals.treeLock.Unlock()
	return
}

// NumGhostPages returns the number of history-only pages in an image's
// ghost index.
func NumGhostPages(imageID uint64) (numPages int) {
	_, _, ghostTree, err := fetchImage(imageID)
	if nil != err {
		return
	}

	globals.treeLock.Lock()
	numPages = ghostTree.len()
	globals.treeLock.Unlock()
	return
}
