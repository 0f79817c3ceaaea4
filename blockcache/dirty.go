package blockcache

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/logger"
)

// dirtyPageStateStruct tracks dirty pages in an oldest-first FIFO and owns
// the writethrough/writeback policy flags. All fields are protected by
// dirtyPageLock except dirtyPages, which is additionally read atomically by
// the capacity check in getPages().
type dirtyPageStateStruct struct {
	passThrough   bool // true until the first UserFlush() switches it off
	head          *Page
	foot          *Page
	dirtyPages    uint32
	targetPages   uint32
	maxDirtyPages uint32 // 0 means writethrough
	maxDirtyAge   time.Duration
}

func (dirtyPageState *dirtyPageStateStruct) writethrough() (wt bool) {
	wt = dirtyPageState.passThrough || (0 == dirtyPageState.maxDirtyPages)
	return
}

func (dirtyPageState *dirtyPageStateStruct) setWriteback() {
	dirtyPageState.passThrough = false
}

func (dirtyPageState *dirtyPageStateStruct) needWriteback() (need bool) {
	need = atomic.LoadUint32(&dirtyPageState.dirtyPages) > dirtyPageState.targetPages
	return
}

func (dirtyPageState *dirtyPageStateStruct) needWritebackPages() (numPages uint32) {
	dirtyPages := atomic.LoadUint32(&dirtyPageState.dirtyPages)
	if dirtyPages > dirtyPageState.targetPages {
		numPages = dirtyPages - dirtyPageState.targetPages
	} else {
		numPages = 0
	}
	return
}

func (dirtyPageState *dirtyPageStateStruct) getDirtyPages() (numPages uint32) {
	numPages = atomic.LoadUint32(&dirtyPageState.dirtyPages)
	return
}

// markDirty appends the page to the FIFO tail, detaching it first if it is
// already dirty (a rewrite refreshes its writeback position and age).
func (dirtyPageState *dirtyPageStateStruct) markDirty(page *Page) {
	if page.dirty {
		page.assertLocation(locDirtyFIFO, "dirtyPageState.markDirty()")
		if nil != page.prev {
			page.prev.next = page.next
		} else {
			dirtyPageState.head = page.next
		}
		if nil != page.next {
			page.next.prev = page.prev
		} else {
			dirtyPageState.foot = page.prev
		}
	} else {
		page.assertLocation(locDetached, "dirtyPageState.markDirty()")
		page.dirty = true
		atomic.AddUint32(&dirtyPageState.dirtyPages, 1)
	}

	page.location = locDirtyFIFO
	page.dirtiedAt = time.Now()
	page.prev = dirtyPageState.foot
	if nil != dirtyPageState.foot {
		dirtyPageState.foot.next = page
	}
	if nil == dirtyPageState.head {
		dirtyPageState.head = page
	}
	dirtyPageState.foot = page
	page.next = nil
}

// writebackPages detaches up to num dirty pages from the FIFO head (num ==
// 0 means all), clears their dirty flags, and partitions them into
// per-image offset-ordered trees.
func (dirtyPageState *dirtyPageStateStruct) writebackPages(sortedFlush map[uint64]*pageTreeStruct, num uint32) {
	var detached uint32

	page := dirtyPageState.head
	for nil != page {
		if (0 != num) && (detached >= num) {
			break
		}

		next := page.next
		page.assertLocation(locDirtyFIFO, "dirtyPageState.writebackPages()")
		page.dirty = false
		page.prev = nil
		page.next = nil
		page.location = locDetached

		imageTree, ok := sortedFlush[page.imageID]
		if !ok {
			imageTree = newPageTree()
			sortedFlush[page.imageID] = imageTree
		}
		imageTree.insert(page)

		detached++
		page = next
	}

	atomic.AddUint32(&dirtyPageState.dirtyPages, ^uint32(detached-1))
	dirtyPageState.head = page
	if nil == dirtyPageState.head {
		dirtyPageState.foot = nil
	} else {
		dirtyPageState.head.prev = nil
	}
}

// agedPages counts the FIFO prefix dirtied longer ago than maxDirtyAge.
func (dirtyPageState *dirtyPageStateStruct) agedPages() (numPages uint32) {
	if 0 == dirtyPageState.maxDirtyAge {
		return
	}

	cutoff := time.Now().Add(-dirtyPageState.maxDirtyAge)
	for page := dirtyPageState.head; nil != page; page = page.next {
		if page.dirtiedAt.After(cutoff) {
			break
		}
		numPages++
	}
	return
}

// validateFIFO confirms the dirty counter matches the FIFO length. Test
// hook.
func (dirtyPageState *dirtyPageStateStruct) validateFIFO() (valid bool) {
	var fifoLen uint32
	for page := dirtyPageState.head; nil != page; page = page.next {
		if !page.dirty {
			logger.Errorf("dirtyPageState.validateFIFO(): %v on FIFO but not dirty", page)
			return false
		}
		fifoLen++
	}
	valid = fifoLen == atomic.LoadUint32(&dirtyPageState.dirtyPages)
	return
}
