package blockcache

import (
	"testing"
)

func makeTestCARState(dataPages uint32) (carState *carStateStruct) {
	carState = &carStateStruct{}
	carState.dataPages = dataPages
	carState.arcLRULimit = dataPages / 2
	return
}

func makeTestPage(offset uint64) (page *Page) {
	page = &Page{
		offset:   offset,
		arcIdx:   arcCount,
		location: locDetached,
		buf:      make([]byte, 16),
	}
	return
}

func admitTestPage(carState *carStateStruct, offset uint64, hitGhostHistory uint8) (page *Page) {
	page = makeTestPage(offset)
	carState.adjustAndHold(page, hitGhostHistory)
	carState.insertPage(page)
	return
}

func TestCARAdmitToLRU(t *testing.T) {
	carState := makeTestCARState(4)

	page := admitTestPage(carState, 0, arcCount)
	if arcLRU != page.arcIdx {
		t.Fatalf("directory miss should admit to LRU, got class %d", page.arcIdx)
	}
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d, expected 1", carState.arcListSize[arcLRU])
	}
	if !carState.isPageInOrInflight(page) {
		t.Fatalf("admitted page should be linked into its list")
	}
	if !carState.validate() {
		t.Fatalf("validate() failed")
	}
}

func TestCARDetachedButCounted(t *testing.T) {
	carState := makeTestCARState(4)

	page := makeTestPage(0)
	carState.adjustAndHold(page, arcCount)

	// counted in its class while still detached (in flight)
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d, expected 1 while in flight", carState.arcListSize[arcLRU])
	}
	if locDetached != page.location {
		t.Fatalf("in-flight page should be detached")
	}

	carState.insertPage(page)
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d after insertPage(), expected 1", carState.arcListSize[arcLRU])
	}
	if locCARList != page.location {
		t.Fatalf("inserted page should be linked")
	}
}

func TestCAREvictToGhost(t *testing.T) {
	carState := makeTestCARState(2)

	pageA := admitTestPage(carState, 0, arcCount)
	pageB := admitTestPage(carState, 4096, arcCount)

	// LRU size (2) >= limit (1): the clock pops the LRU head
	evictee := carState.evictData()
	if evictee != pageA {
		t.Fatalf("expected the LRU head to be evicted")
	}
	if arcLRUGhost != evictee.arcIdx {
		t.Fatalf("evictee should be in LRU_GHOST, got class %d", evictee.arcIdx)
	}
	if !carState.validate() {
		t.Fatalf("validate() failed after eviction")
	}
	_ = pageB
}

func TestCARReferenceBitSecondChance(t *testing.T) {
	carState := makeTestCARState(2)

	pageA := admitTestPage(carState, 0, arcCount)
	pageB := admitTestPage(carState, 4096, arcCount)

	carState.hitPage(pageA)

	// pageA's reference bit moves it to LFU; pageB is the victim
	evictee := carState.evictData()
	if evictee != pageB {
		t.Fatalf("expected the unreferenced page to be evicted")
	}
	if arcLFU != pageA.arcIdx {
		t.Fatalf("referenced page should have been promoted to LFU, got class %d", pageA.arcIdx)
	}
	if pageA.reference {
		t.Fatalf("promotion should clear the reference bit")
	}
}

func TestCARGhostHitPromotesToLFU(t *testing.T) {
	carState := makeTestCARState(16)
	carState.arcLRULimit = 8

	// fill the cache, then displace every original with a new page,
	// leaving all the originals in LRU_GHOST
	pages := make([]*Page, 16)
	for pageIndex := range pages {
		pages[pageIndex] = admitTestPage(carState, uint64(pageIndex)*4096, arcCount)
	}
	for pageIndex := 16; pageIndex < 32; pageIndex++ {
		carState.evictData()
		admitTestPage(carState, uint64(pageIndex)*4096, arcCount)
	}
	if 16 != carState.arcListSize[arcLRUGhost] {
		t.Fatalf("LRU_GHOST size is %d, expected 16", carState.arcListSize[arcLRUGhost])
	}

	// a miss whose offset is remembered in LRU_GHOST evicts a data page,
	// reuses the hit ghost's descriptor, and admits to LFU; with an empty
	// LFU_GHOST the adaptive delta is 0
	limitBefore := carState.arcLRULimit
	carState.evictData()
	promoted := carState.getGhostPage(pages[0])
	carState.adjustAndHold(promoted, arcLRUGhost)
	if arcLFU != promoted.arcIdx {
		t.Fatalf("ghost hit should admit to LFU, got class %d", promoted.arcIdx)
	}
	if limitBefore != carState.arcLRULimit {
		t.Fatalf("lru limit changed by %d with |LFU_GHOST| == 0",
			int64(carState.arcLRULimit)-int64(limitBefore))
	}
	carState.insertPage(promoted)

	if !carState.validate() {
		t.Fatalf("validate() failed")
	}
}

func TestCARAdaptiveLimit(t *testing.T) {
	carState := makeTestCARState(8)
	carState.arcLRULimit = 4

	// seed both ghost lists
	for ghostIndex := uint64(0); ghostIndex < 4; ghostIndex++ {
		ghost := makeTestPage(ghostIndex * 4096)
		ghost.buf = nil
		carState.lock.Lock()
		carState._appendPage(ghost, arcLRUGhost)
		carState.lock.Unlock()
	}
	for ghostIndex := uint64(4); ghostIndex < 6; ghostIndex++ {
		ghost := makeTestPage(ghostIndex * 4096)
		ghost.buf = nil
		carState.lock.Lock()
		carState._appendPage(ghost, arcLFUGhost)
		carState.lock.Unlock()
	}

	// LRU_GHOST hit grows the LRU target by |LRU_GHOST|/|LFU_GHOST| = 2
	page := makeTestPage(100 * 4096)
	carState.adjustAndHold(page, arcLRUGhost)
	if 6 != carState.arcLRULimit {
		t.Fatalf("lru limit is %d, expected 6", carState.arcLRULimit)
	}

	// LFU_GHOST hit shrinks it back
	page2 := makeTestPage(101 * 4096)
	carState.adjustAndHold(page2, arcLFUGhost)
	if 4 != carState.arcLRULimit {
		t.Fatalf("lru limit is %d, expected 4", carState.arcLRULimit)
	}

	// the target saturates at dataPages
	carState.arcLRULimit = 7
	page3 := makeTestPage(102 * 4096)
	carState.adjustAndHold(page3, arcLRUGhost)
	if carState.arcLRULimit > carState.dataPages {
		t.Fatalf("lru limit %d exceeded dataPages %d", carState.arcLRULimit, carState.dataPages)
	}
}

func TestCARMakeDirtyRestoresCount(t *testing.T) {
	carState := makeTestCARState(4)

	page := admitTestPage(carState, 0, arcCount)
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d, expected 1", carState.arcListSize[arcLRU])
	}

	carState.makeDirty(page)
	if locDetached != page.location {
		t.Fatalf("dirty page should leave its CAR list")
	}
	if arcLRU != page.arcIdx {
		t.Fatalf("dirty page should remember its class, got %d", page.arcIdx)
	}
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d, expected the count to be restored to 1", carState.arcListSize[arcLRU])
	}

	// makeDirty of an already-detached page (re-dirty during writeback) is
	// a no-op
	carState.makeDirty(page)
	if 1 != carState.arcListSize[arcLRU] {
		t.Fatalf("LRU size is %d after re-dirty, expected 1", carState.arcListSize[arcLRU])
	}

	// clean writeback completion re-links it
	carState.insertPage(page)
	if (locCARList != page.location) || (1 != carState.arcListSize[arcLRU]) {
		t.Fatalf("insertPage() did not restore list membership")
	}
}

func TestCARGhostSlotReclamation(t *testing.T) {
	carState := makeTestCARState(2)

	pageA := admitTestPage(carState, 0, arcCount)
	pageB := admitTestPage(carState, 4096, arcCount)
	_ = pageB

	// evict pageA: |LRU| + |LRU_GHOST| == 1 + 1 == dataPages, so the ghost
	// head must be reclaimed
	evictee := carState.evictData()
	if evictee != pageA {
		t.Fatalf("expected pageA to be evicted")
	}
	reclaimed := carState.getGhostPage(nil)
	if reclaimed != pageA {
		t.Fatalf("expected the LRU_GHOST head to be reclaimed")
	}

	// with room in the directory no ghost is reclaimed
	if nil != carState.getGhostPage(nil) {
		t.Fatalf("expected no ghost reclamation with a roomy directory")
	}
}

func TestDirtyFIFOOrder(t *testing.T) {
	dirtyPageState := &dirtyPageStateStruct{}

	pageA := makeTestPage(0)
	pageB := makeTestPage(4096)
	pageC := makeTestPage(8192)
	pageA.imageID = 1
	pageB.imageID = 1
	pageC.imageID = 2

	dirtyPageState.markDirty(pageA)
	dirtyPageState.markDirty(pageB)
	dirtyPageState.markDirty(pageC)
	if 3 != dirtyPageState.getDirtyPages() {
		t.Fatalf("dirty count is %d, expected 3", dirtyPageState.getDirtyPages())
	}
	if !dirtyPageState.validateFIFO() {
		t.Fatalf("validateFIFO() failed")
	}

	// re-dirtying pageA moves it to the tail without double counting
	dirtyPageState.markDirty(pageA)
	if 3 != dirtyPageState.getDirtyPages() {
		t.Fatalf("dirty count is %d after re-dirty, expected 3", dirtyPageState.getDirtyPages())
	}
	if dirtyPageState.foot != pageA {
		t.Fatalf("re-dirtied page should be at the FIFO tail")
	}
	if dirtyPageState.head != pageB {
		t.Fatalf("FIFO head should now be pageB")
	}

	// writeback selects the oldest prefix, partitioned by image
	sortedFlush := make(map[uint64]*pageTreeStruct)
	dirtyPageState.writebackPages(sortedFlush, 2)
	if 1 != dirtyPageState.getDirtyPages() {
		t.Fatalf("dirty count is %d after writeback, expected 1", dirtyPageState.getDirtyPages())
	}
	if (nil == sortedFlush[1]) || (1 != sortedFlush[1].len()) {
		t.Fatalf("image 1 partition should hold pageB")
	}
	if (nil == sortedFlush[2]) || (1 != sortedFlush[2].len()) {
		t.Fatalf("image 2 partition should hold pageC")
	}
	if pageB.dirty || pageC.dirty {
		t.Fatalf("writeback should clear the dirty flags")
	}
	if !pageA.dirty {
		t.Fatalf("pageA should still be dirty")
	}

	// num == 0 drains everything
	sortedFlush = make(map[uint64]*pageTreeStruct)
	dirtyPageState.writebackPages(sortedFlush, 0)
	if 0 != dirtyPageState.getDirtyPages() {
		t.Fatalf("dirty count is %d after full writeback, expected 0", dirtyPageState.getDirtyPages())
	}
	if !dirtyPageState.validateFIFO() {
		t.Fatalf("validateFIFO() failed after drain")
	}
}

func TestDirtyPolicyFlags(t *testing.T) {
	dirtyPageState := &dirtyPageStateStruct{passThrough: true, targetPages: 2, maxDirtyPages: 4}

	if !dirtyPageState.writethrough() {
		t.Fatalf("cache should start in pass-through")
	}
	dirtyPageState.setWriteback()
	if dirtyPageState.writethrough() {
		t.Fatalf("setWriteback() should leave pass-through")
	}

	zeroMax := &dirtyPageStateStruct{maxDirtyPages: 0}
	zeroMax.setWriteback()
	if !zeroMax.writethrough() {
		t.Fatalf("maxDirtyPages == 0 must force writethrough")
	}

	for pageIndex := uint64(0); pageIndex < 3; pageIndex++ {
		dirtyPageState.markDirty(makeTestPage(pageIndex * 4096))
	}
	if !dirtyPageState.needWriteback() {
		t.Fatalf("needWriteback() should be true above the target")
	}
	if 1 != dirtyPageState.needWritebackPages() {
		t.Fatalf("needWritebackPages() is %d, expected 1", dirtyPageState.needWritebackPages())
	}
}
