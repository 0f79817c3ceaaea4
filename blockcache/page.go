package blockcache

import (
	"fmt"
	"time"

	"github.com/NVIDIA/blockcache/logger"
)

// CAR list indices. arcCount doubles as the "no list" marker.
const (
	arcLRU uint8 = iota
	arcLFU
	arcLRUGhost
	arcLFUGhost
	arcCount
)

// pageLocation names the one intrusive list a Page may currently be linked
// into. Every transition asserts the expected source location.
type pageLocation uint8

const (
	locFreeDesc pageLocation = iota // free descriptor list (no buffer)
	locFreeFrame                    // free frame list (owns a buffer)
	locCARList                      // the CAR list named by arcIdx
	locDirtyFIFO                    // the dirty FIFO
	locDetached                     // held by a caller; in no list
)

// Page is a fixed-size buffer frame. (imageID, offset) is its identity while
// populated; buf is nil while the page is a ghost or a free descriptor.
type Page struct {
	imageID   uint64
	offset    uint64
	arcIdx    uint8
	location  pageLocation
	reference bool
	onRead    bool
	dirty     bool
	buf       []byte
	prev      *Page
	next      *Page
	dirtiedAt time.Time
}

// Offset returns the page-aligned byte offset of the page within its image.
func (page *Page) Offset() (offset uint64) {
	offset = page.offset
	return
}

// ImageID returns the id of the image the page belongs to.
func (page *Page) ImageID() (imageID uint64) {
	imageID = page.imageID
	return
}

func (page *Page) String() string {
	return fmt.Sprintf("Page(image=%d offset=%d arc=%d loc=%d ref=%v onRead=%v dirty=%v ghost=%v)",
		page.imageID, page.offset, page.arcIdx, page.location, page.reference, page.onRead, page.dirty, nil == page.buf)
}

func (page *Page) assertLocation(expected pageLocation, caller string) {
	if page.location != expected {
		logger.PanicfWithError(nil, "%s: %v is in location %d, expected %d", caller, page, page.location, expected)
	}
}

// region is one contiguous slab of buffer bytes from which page frames are
// carved. Regions are only released at teardown.
type region struct {
	slab []byte
}

// regRegion grows the buffer pool by numPages frames: it claims numPages
// descriptors from the free descriptor list, carves one slab into
// page-length buffers, and pushes the now frame-carrying descriptors onto
// the free frame list.
//
// The caller must hold treeLock.
func regRegion(numPages uint32) (err error) {
	if 0 == numPages {
		logger.PanicfWithError(nil, "regRegion(): numPages == 0")
	}
	logger.Tracef("regRegion(): pageLength=%d numPages=%d", globals.pageLength, numPages)

	slabSize := uint64(numPages) * globals.pageLength
	slab, err := allocateSlab(slabSize)
	if nil != err {
		logger.ErrorfWithError(err, "regRegion(): failed to allocate region of %d bytes", slabSize)
		return
	}

	globals.regions = append(globals.regions, region{slab: slab})

	for framesCarved := uint32(0); framesCarved < numPages; framesCarved++ {
		page := globals.freePagesHead
		if nil == page {
			logger.PanicfWithError(nil, "regRegion(): free descriptor list exhausted")
		}
		globals.freePagesHead = page.next
		page.next = nil

		page.assertLocation(locFreeDesc, "regRegion()")
		page.buf = slab[uint64(framesCarved)*globals.pageLength : uint64(framesCarved+1)*globals.pageLength : uint64(framesCarved+1)*globals.pageLength]
		page.location = locFreeFrame
		page.next = globals.freeFramesHead
		globals.freeFramesHead = page
		globals.numFreeFrames++
	}

	globals.remainDataPages -= numPages

	err = nil
	return
}

// allocateSlab returns a zeroed slab. Allocation failures surface as
// blunder OutOfMemoryError rather than an unrecoverable runtime abort.
func allocateSlab(slabSize uint64) (slab []byte, err error) {
	defer func() {
		if recovered := recover(); nil != recovered {
			slab = nil
			err = fmt.Errorf("slab allocation of %d bytes failed: %v", slabSize, recovered)
		}
	}()

	slab = make([]byte, slabSize)
	err = nil
	return
}

// popFreeFrame detaches the head of the free frame list.
//
// The caller must hold treeLock and have checked the list is non-empty.
func popFreeFrame() (page *Page) {
	page = globals.freeFramesHead
	page.assertLocation(locFreeFrame, "popFreeFrame()")
	globals.freeFramesHead = page.next
	page.next = nil
	page.location = locDetached
	globals.numFreeFrames--
	return
}

// popFreeDesc detaches the head of the free descriptor list.
//
// The caller must hold treeLock and have checked the list is non-empty.
func popFreeDesc() (page *Page) {
	page = globals.freePagesHead
	page.assertLocation(locFreeDesc, "popFreeDesc()")
	globals.freePagesHead = page.next
	page.next = nil
	page.location = locDetached
	return
}

// pushFreeDesc returns a detached, bufferless descriptor to the free
// descriptor list.
//
// The caller must hold treeLock.
func pushFreeDesc(page *Page) {
	page.assertLocation(locDetached, "pushFreeDesc()")
	if nil != page.buf {
		logger.PanicfWithError(nil, "pushFreeDesc(): %v still owns a buffer", page)
	}
	page.arcIdx = arcCount
	page.reference = false
	page.onRead = false
	page.dirty = false
	page.location = locFreeDesc
	page.next = globals.freePagesHead
	page.prev = nil
	globals.freePagesHead = page
}

// pushFreeFrame returns a detached, frame-carrying page to the free frame
// list.
//
// The caller must hold treeLock.
func pushFreeFrame(page *Page) {
	page.assertLocation(locDetached, "pushFreeFrame()")
	if nil == page.buf {
		logger.PanicfWithError(nil, "pushFreeFrame(): %v has no buffer", page)
	}
	page.arcIdx = arcCount
	page.reference = false
	page.onRead = false
	page.dirty = false
	page.location = locFreeFrame
	page.next = globals.freeFramesHead
	page.prev = nil
	globals.freeFramesHead = page
	globals.numFreeFrames++
}
