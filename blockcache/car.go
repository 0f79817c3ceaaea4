package blockcache

import (
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/trackedlock"
)

// carStateStruct is the CAR (Clock with Adaptive Replacement) engine: the
// LRU/LFU clock lists and their ghost histories, plus the adaptive LRU
// target size.
//
// A page admitted by adjustAndHold() (or pulled off its list by makeDirty())
// is counted in its class's size while physically detached; insertPage()
// later re-appends it. This keeps the replacement accounting stable across a
// page's in-flight life.
type carStateStruct struct {
	lock        trackedlock.Mutex
	arcListHead [arcCount]*Page
	arcListFoot [arcCount]*Page
	arcListSize [arcCount]uint32
	arcLRULimit uint32
	dataPages   uint32
}

// The caller must hold carState.lock for the _-prefixed list primitives.

func (carState *carStateStruct) _popHeadPage(arcIdx uint8) (page *Page) {
	page = carState.arcListHead[arcIdx]
	page.assertLocation(locCARList, "carState._popHeadPage()")
	if nil != page.next {
		page.next.prev = nil
	}
	carState.arcListHead[arcIdx] = page.next
	page.next = nil
	page.prev = nil
	if nil == carState.arcListHead[arcIdx] {
		carState.arcListFoot[arcIdx] = nil
	}
	carState.arcListSize[arcIdx]--
	page.arcIdx = arcCount
	page.location = locDetached
	return
}

func (carState *carStateStruct) _appendPage(page *Page, arcIdx uint8) {
	if page.dirty || (nil != page.next) || (nil != page.prev) {
		logger.PanicfWithError(nil, "carState._appendPage(): %v is dirty or still linked", page)
	}
	page.assertLocation(locDetached, "carState._appendPage()")
	page.arcIdx = arcIdx
	page.location = locCARList
	if nil != carState.arcListFoot[arcIdx] {
		carState.arcListFoot[arcIdx].next = page
	}
	page.prev = carState.arcListFoot[arcIdx]
	carState.arcListFoot[arcIdx] = page
	if nil == carState.arcListHead[arcIdx] {
		carState.arcListHead[arcIdx] = page
	}
	page.reference = false
	carState.arcListSize[arcIdx]++
}

func (carState *carStateStruct) _removePage(page *Page) {
	page.assertLocation(locCARList, "carState._removePage()")
	carState.arcListSize[page.arcIdx]--
	if nil != page.prev {
		page.prev.next = page.next
	} else {
		carState.arcListHead[page.arcIdx] = page.next
	}
	if nil != page.next {
		page.next.prev = page.prev
	} else {
		carState.arcListFoot[page.arcIdx] = page.prev
	}
	page.arcIdx = arcCount
	page.prev = nil
	page.next = nil
	page.location = locDetached
}

// hitPage records a reference hit. No list movement; the clock hands pick
// the bit up during eviction.
func (carState *carStateStruct) hitPage(page *Page) {
	page.reference = true
}

// getGhostPage yields the descriptor a miss should reuse when the free
// descriptor pool must not grow: the ghost that was hit (identity
// resurrection), else a ghost-list head per the CAR directory-size bounds,
// else nil (the caller takes a fresh descriptor).
func (carState *carStateStruct) getGhostPage(ghostPage *Page) (page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	switch {
	case nil != ghostPage:
		carState._removePage(ghostPage)
		page = ghostPage
	case (carState.arcListSize[arcLRU]+carState.arcListSize[arcLRUGhost] == carState.dataPages) &&
		(0 != carState.arcListSize[arcLRUGhost]):
		page = carState._popHeadPage(arcLRUGhost)
	case carState.arcListSize[arcLRU]+carState.arcListSize[arcLFU]+
		carState.arcListSize[arcLRUGhost]+carState.arcListSize[arcLFUGhost] == 2*carState.dataPages:
		if 0 != carState.arcListSize[arcLFUGhost] {
			page = carState._popHeadPage(arcLFUGhost)
		} else {
			page = carState._popHeadPage(arcLRUGhost)
		}
	default:
		page = nil
	}
	return
}

// evictData runs the CAR clock hands until a page with a clear reference
// bit surfaces. The victim is appended to its class's ghost list and
// returned; the caller takes over its buffer and ghost-index placement.
//
// Class sizes include detached in-flight pages, so the hand preference is
// overridden when the preferred list is physically empty (the capacity gate
// in getPages guarantees at least one linked clean page exists).
func (carState *carStateStruct) evictData() (page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	for {
		preferLRU := carState.arcListSize[arcLRU] >= carState.arcLRULimit
		if preferLRU && (nil == carState.arcListHead[arcLRU]) {
			preferLRU = false
		} else if !preferLRU && (nil == carState.arcListHead[arcLFU]) {
			preferLRU = true
		}

		if preferLRU {
			if nil == carState.arcListHead[arcLRU] {
				logger.PanicfWithError(nil, "carState.evictData(): no evictable page")
			}
			page = carState._popHeadPage(arcLRU)
			if page.reference {
				carState._appendPage(page, arcLFU)
			} else {
				carState._appendPage(page, arcLRUGhost)
				return
			}
		} else {
			page = carState._popHeadPage(arcLFU)
			if page.reference {
				carState._appendPage(page, arcLFU)
			} else {
				carState._appendPage(page, arcLFUGhost)
				return
			}
		}
	}
}

// adjustAndHold admits a miss page: it applies the adaptive adjustment for
// a ghost-history hit, assigns the page's class, and bumps that class's
// size. The page is NOT linked into the list yet; it stays detached while
// in flight and insertPage() links it on completion.
func (carState *carStateStruct) adjustAndHold(page *Page, hitGhostHistory uint8) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	switch hitGhostHistory {
	case arcLRUGhost:
		// cache directory hit
		carState.arcLRULimit = min32(carState.arcLRULimit+carState.ghostRatio(), carState.dataPages)
		page.arcIdx = arcLFU
	case arcLFUGhost:
		// cache directory hit
		difference := carState.ghostRatio()
		if carState.arcLRULimit > difference {
			carState.arcLRULimit -= difference
		} else {
			carState.arcLRULimit = 0
		}
		page.arcIdx = arcLFU
	default:
		// cache directory miss
		page.arcIdx = arcLRU
	}
	carState.arcListSize[page.arcIdx]++
	logger.Tracef("carState.adjustAndHold(): new lru limit %d", carState.arcLRULimit)
}

// ghostRatio is |LRU_GHOST|/|LFU_GHOST| with an empty LFU ghost list
// contributing no adjustment.
func (carState *carStateStruct) ghostRatio() (ratio uint32) {
	if 0 == carState.arcListSize[arcLFUGhost] {
		ratio = 0
	} else {
		ratio = carState.arcListSize[arcLRUGhost] / carState.arcListSize[arcLFUGhost]
	}
	return
}

// insertPage links a detached-but-counted page (in-flight read fill,
// completed writeback, or discarded dirty page) into the tail of the class
// it has been counted in all along.
func (carState *carStateStruct) insertPage(page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	// the size was already bumped by adjustAndHold()/makeDirty(); drop it
	// before _appendPage() bumps it again
	arcIdx := page.arcIdx
	carState.arcListSize[arcIdx]--
	carState._appendPage(page, arcIdx)
}

// makeDirty removes a page from its CAR list while restoring the class size
// counter, leaving the page counted-but-detached so that a clean writeback
// completion can simply insertPage() it. A page already detached (in-flight
// writeback being re-dirtied) is left untouched.
func (carState *carStateStruct) makeDirty(page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	if locCARList != page.location {
		return
	}

	arcIdx := page.arcIdx
	carState._removePage(page)
	page.arcIdx = arcIdx
	carState.arcListSize[arcIdx]++
}

// dropHeldPage releases the class-size hold of a detached page that will
// never be linked in (a failed backend fill). Its descriptor goes back to a
// free list.
func (carState *carStateStruct) dropHeldPage(page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	page.assertLocation(locDetached, "carState.dropHeldPage()")
	carState.arcListSize[page.arcIdx]--
	page.arcIdx = arcCount
}

// detachPage unlinks a page from whichever CAR list holds it, dropping the
// class size for good. Used by image unregistration.
func (carState *carStateStruct) detachPage(page *Page) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	carState._removePage(page)
}

// isFull reports whether every data frame is claimed by the clock lists.
func (carState *carStateStruct) isFull() (full bool) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	full = carState.arcListSize[arcLRU]+carState.arcListSize[arcLFU] == carState.dataPages
	return
}

// validate checks the CAR directory-size invariants. Test hook.
func (carState *carStateStruct) validate() (valid bool) {
	carState.lock.Lock()
	defer carState.lock.Unlock()

	sizeLRU := carState.arcListSize[arcLRU]
	sizeLFU := carState.arcListSize[arcLFU]
	sizeLRUGhost := carState.arcListSize[arcLRUGhost]
	sizeLFUGhost := carState.arcListSize[arcLFUGhost]

	// Ghost entries are reclaimed only under descriptor pressure, so the
	// only hard bounds are the data-frame count and the descriptor count.
	if sizeLRU+sizeLFU > carState.dataPages {
		return false
	}
	if sizeLFU+sizeLFUGhost > 2*carState.dataPages {
		return false
	}
	if sizeLRU+sizeLFU+sizeLRUGhost+sizeLFUGhost > 2*carState.dataPages {
		return false
	}
	return true
}

// isPageInOrInflight reports whether the page is linked into its class's
// list or is currently being filled. Test hook.
func (carState *carStateStruct) isPageInOrInflight(page *Page) (found bool) {
	if arcCount == page.arcIdx {
		logger.PanicfWithError(nil, "carState.isPageInOrInflight(): %v has no class", page)
	}

	carState.lock.Lock()
	defer carState.lock.Unlock()

	for cursor := carState.arcListHead[page.arcIdx]; nil != cursor; cursor = cursor.next {
		if cursor == page {
			found = true
			return
		}
	}
	found = page.onRead
	return
}

func min32(a uint32, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
