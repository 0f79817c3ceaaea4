package blockcache

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/stats"
)

func registerImage(handle ImageHandle) (imageID uint64) {
	globals.ictxMgmtLock.Lock()
	defer globals.ictxMgmtLock.Unlock()

	imageID, ok := globals.imageIDs[handle]
	if ok {
		return
	}

	// growing the dense tables also holds treeLock so that holders of
	// either lock may index them
	globals.treeLock.Lock()
	globals.registeredImages = append(globals.registeredImages, handle)
	globals.registeredTrees = append(globals.registeredTrees, newPageTree())
	globals.ghostTrees = append(globals.ghostTrees, newPageTree())
	globals.treeLock.Unlock()

	imageID = uint64(len(globals.registeredImages) - 1)
	globals.imageIDs[handle] = imageID

	logger.Infof("blockcache: registered image %d", imageID)
	return
}

func unregisterImage(handle ImageHandle) {
	globals.ictxMgmtLock.Lock()
	defer globals.ictxMgmtLock.Unlock()

	imageID, ok := globals.imageIDs[handle]
	if !ok {
		return
	}

	tree := globals.registeredTrees[imageID]
	ghostTree := globals.ghostTrees[imageID]

	globals.treeLock.Lock()

	// evict-and-discard the resident pages; dirty pages stay on the dirty
	// FIFO and are discarded by the flusher when it finds the image gone
	for treeIndex := 0; treeIndex < tree.len(); treeIndex++ {
		_, value, ok2, err := tree.tree.GetByIndex(treeIndex)
		if (nil != err) || !ok2 {
			logger.PanicfWithError(err, "unregisterImage(): GetByIndex(%d) failed", treeIndex)
		}
		page := value.(*Page)
		if page.dirty {
			continue
		}
		if page.onRead {
			logger.PanicfWithError(nil, "unregisterImage(): %v still has a read in flight", page)
		}
		if locCARList != page.location {
			logger.PanicfWithError(nil, "unregisterImage(): %v still has a writeback in flight", page)
		}
		globals.carState.detachPage(page)
		pushFreeFrame(page)
	}
	tree.clear()

	for ghostIndex := 0; ghostIndex < ghostTree.len(); ghostIndex++ {
		_, value, ok2, err := ghostTree.tree.GetByIndex(ghostIndex)
		if (nil != err) || !ok2 {
			logger.PanicfWithError(err, "unregisterImage(): ghost GetByIndex(%d) failed", ghostIndex)
		}
		page := value.(*Page)
		globals.carState.detachPage(page)
		pushFreeDesc(page)
	}
	ghostTree.clear()

	globals.registeredImages[imageID] = nil
	globals.registeredTrees[imageID] = nil
	globals.ghostTrees[imageID] = nil
	delete(globals.imageIDs, handle)

	wakeTreeWaiters()
	globals.treeLock.Unlock()

	logger.Infof("blockcache: unregistered image %d", imageID)
}

// fetchImage resolves an image id to its handle and trees.
func fetchImage(imageID uint64) (handle ImageHandle, tree *pageTreeStruct, ghostTree *pageTreeStruct, err error) {
	globals.ictxMgmtLock.RLock()
	defer globals.ictxMgmtLock.RUnlock()

	if (0 == imageID) || (imageID >= uint64(len(globals.registeredImages))) || (nil == globals.registeredImages[imageID]) {
		err = blunder.NewError(blunder.InvalidArgError, "image %d is not registered", imageID)
		return
	}

	handle = globals.registeredImages[imageID]
	tree = globals.registeredTrees[imageID]
	ghostTree = globals.ghostTrees[imageID]
	err = nil
	return
}

// wakeTreeWaiters wakes capacity and page-conflict waiters. The caller must
// hold treeLock.
func wakeTreeWaiters() {
	if globals.readPageWait || globals.writePageWait {
		globals.readPageWait = false
		globals.writePageWait = false
		globals.treeCond.Broadcast()
	}
}

// getPages populates pages[0..numPages) with frames covering
// [alignOffset, alignOffset+numPages*pageLength), marking cache hits in
// hit[]. On a miss it admits a page under CAR, evicting if the pool is
// exhausted; the admitted page is inserted into the image index but stays
// detached from its CAR list until completion-side insertPage().
//
// A region-growth allocation failure releases any pages already admitted
// for this request and surfaces as a blunder OutOfMemoryError; the cache
// remains usable.
//
// The caller must hold treeLock. getPages may drop and re-take it while
// waiting on in-flight conflicting pages or on pool capacity.
func getPages(imageID uint64, tree *pageTreeStruct, ghostTree *pageTreeStruct, pages []*Page, hit []bool, numPages uint32, alignOffset uint64, onlyHit bool) (err error) {
	logger.Tracef("getPages(): %d pages, alignOffset=%d", numPages, alignOffset)

	endOffset := alignOffset + uint64(numPages)*globals.pageLength

	for {
		// hit scan; a page being filled by a reader is waited out, and any
		// wait restarts the scan since already-recorded hits may have been
		// evicted while the lock was dropped
		scanOffset := alignOffset
		for {
			curPage, ok := tree.lowerBound(scanOffset)
			if !ok || (curPage.offset >= endOffset) {
				break
			}
			if curPage.onRead {
				logger.Tracef("getPages(): %v is inflight, queue me", curPage)
				globals.stats.ReadConflictStalls.Increment()
				globals.readPageWait = true
				globals.treeCond.Wait()
				for resetIdx := range pages {
					pages[resetIdx] = nil
					hit[resetIdx] = false
				}
				scanOffset = alignOffset
				continue
			}
			globals.carState.hitPage(curPage)
			idx := (curPage.offset - alignOffset) / globals.pageLength
			pages[idx] = curPage
			hit[idx] = true
			scanOffset = curPage.offset + globals.pageLength
		}

		if onlyHit {
			err = nil
			return
		}

		// capacity gate: bound total buffer usage and give the flusher time
		// to clean dirty pages. The hit set can be evicted while waiting, so
		// a wait restarts the scan.
		if uint64(numPages)+uint64(globals.dirtyPageState.getDirtyPages())+uint64(atomic.LoadInt64(&globals.inflightPages)) < uint64(globals.totalHalfPages) {
			break
		}
		logger.Tracef("getPages(): can't provide enough pages, waiting")
		globals.stats.CapacityStalls.Increment()
		globals.readPageWait = true
		globals.writePageWait = true
		signalFlusher()
		globals.treeCond.Wait()

		for resetIdx := range pages {
			pages[resetIdx] = nil
			hit[resetIdx] = false
		}
	}

	idx := uint32(0)
	for pos := alignOffset; idx < numPages; pos, idx = pos+globals.pageLength, idx+1 {
		if hit[idx] {
			continue
		}

		// cache miss; probe the ghost history first. Resurrection always
		// consumes the ghost entry, one way or another.
		hitGhostHistory := arcCount
		ghostPage, ghostHit := ghostTree.getByOffset(pos)
		if ghostHit {
			logger.Tracef("getPages(): hit history %v", ghostPage)
			globals.stats.GhostHits.Increment()
			hitGhostHistory = ghostPage.arcIdx
		} else {
			ghostPage = nil
		}

		var curPage *Page
		if (nil == globals.freeFramesHead) && (0 == globals.remainDataPages) {
			// cache full; reclaim a frame via CAR eviction
			curPage = evictForFrame(ghostPage, ghostTree)
		} else {
			if ghostHit {
				globals.carState.detachPage(ghostPage)
				ghostTree.eraseExact(ghostPage)
				pushFreeDesc(ghostPage)
			}
			if nil == globals.freeFramesHead {
				regionPages := min32(globals.remainDataPages, globals.regionMaxPages)
				logger.Tracef("getPages(): no free frame, growing a %d page region", regionPages)
				regErr := regRegion(regionPages)
				if nil != regErr {
					for releaseIdx := uint32(0); releaseIdx < idx; releaseIdx++ {
						if !hit[releaseIdx] && (nil != pages[releaseIdx]) {
							errorReleasePage(tree, pages[releaseIdx])
							pages[releaseIdx] = nil
						}
					}
					err = blunder.AddError(regErr, blunder.OutOfMemoryError)
					return
				}
			}
			curPage = popFreeFrame()
		}

		if nil == curPage.buf {
			logger.PanicfWithError(nil, "getPages(): %v has no frame", curPage)
		}
		curPage.onRead = false
		curPage.dirty = false
		curPage.reference = false
		globals.carState.adjustAndHold(curPage, hitGhostHistory)
		curPage.imageID = imageID
		curPage.offset = pos
		tree.insert(curPage)
		pages[idx] = curPage
	}

	err = nil
	return
}

// evictForFrame runs a CAR eviction and hands the victim's frame to a
// reusable descriptor: the hit ghost page if any, else a free descriptor,
// else a ghost-list head per the directory bounds. The victim becomes a
// ghost in its image's ghost index.
//
// The caller must hold treeLock.
func evictForFrame(ghostPage *Page, ghostTree *pageTreeStruct) (curPage *Page) {
	evictee := globals.carState.evictData()
	globals.stats.Evictions.Increment()

	frame := evictee.buf
	evictee.buf = nil

	evicteeTree := globals.registeredTrees[evictee.imageID]
	evicteeGhostTree := globals.ghostTrees[evictee.imageID]
	if nil == evicteeTree {
		// image since unregistered (its dirty pages were discarded by the
		// flusher); no history worth keeping
		globals.carState.detachPage(evictee)
		pushFreeDesc(evictee)
	} else {
		evicteeTree.eraseExact(evictee)
		if _, occupied := evicteeGhostTree.getByOffset(evictee.offset); occupied {
			// a Purge() left a same-offset ghost behind; drop this one
			globals.carState.detachPage(evictee)
			pushFreeDesc(evictee)
		} else {
			evicteeGhostTree.insert(evictee)
		}
	}

	if nil != ghostPage {
		curPage = globals.carState.getGhostPage(ghostPage)
		ghostTree.eraseExact(curPage)
	} else if nil != globals.freePagesHead {
		curPage = popFreeDesc()
	} else {
		curPage = globals.carState.getGhostPage(nil)
		if nil != curPage {
			curGhostTree := globals.ghostTrees[curPage.imageID]
			if nil != curGhostTree {
				curGhostTree.eraseExact(curPage)
			}
		} else {
			// pool accounting guarantees a free descriptor when neither
			// directory bound has been reached
			curPage = popFreeDesc()
		}
	}
	curPage.buf = frame
	return
}

// readBuffer implements ReadBuffer.
func readBuffer(imageID uint64, offset uint64, length uint64, buf []byte, completion Completion, snapID uint64, opFlags int) (err error) {
	logger.Tracef("readBuffer(): image=%d offset=%d length=%d", imageID, offset, length)

	if 0 == length {
		completion.Complete(0)
		err = nil
		return
	}
	if uint64(len(buf)) < length {
		err = blunder.NewError(blunder.InvalidArgError, "readBuffer(): buffer of %d bytes cannot hold %d bytes", len(buf), length)
		return
	}

	handle, tree, ghostTree, err := fetchImage(imageID)
	if nil != err {
		return
	}

	alignOffset := offset - offset%globals.pageLength
	numPages := computeNumPages(offset, length)
	if numPages >= globals.totalHalfPages {
		err = blunder.NewError(blunder.InvalidArgError, "readBuffer(): request of %d pages exceeds the %d page pool", numPages, globals.totalHalfPages)
		return
	}

	completion = opStatsCompletion(time.Now(), &globals.stats.ReadUsec, &globals.stats.ReadBytes, length, stats.CacheRead, completion)

	pages := make([]*Page, numPages)
	hit := make([]bool, numPages)
	end := offset + length

	var missPages uint32

	globals.treeLock.Lock()
	err = getPages(imageID, tree, ghostTree, pages, hit, numPages, alignOffset, false)
	if nil != err {
		globals.treeLock.Unlock()
		return
	}
	for idx, page := range pages {
		if hit[idx] {
			copyPageToUser(page, offset, end, buf)
			globals.stats.ReadHitPages.Increment()
		} else {
			page.onRead = true
			missPages++
		}
	}
	atomic.AddInt64(&globals.inflightPages, int64(missPages))
	globals.treeLock.Unlock()

	globals.stats.ReadMissPages.Add(uint64(missPages))
	stats.IncrementOperationsBy(&stats.BlockCacheReadHits, uint64(numPages-missPages))
	stats.IncrementOperationsBy(&stats.BlockCacheReadMisses, uint64(missPages))

	if 0 == missPages {
		completion.Complete(int64(length))
		err = nil
		return
	}

	// map maximal contiguous miss runs to object extents before submitting
	// anything, so a striper failure releases every miss page
	objectExtents, err := missRunsToExtents(handle, pages, hit)
	if nil != err {
		globals.treeLock.Lock()
		for idx, page := range pages {
			if !hit[idx] {
				errorReleasePage(tree, page)
			}
		}
		wakeTreeWaiters()
		globals.treeLock.Unlock()
		atomic.AddInt64(&globals.inflightPages, -int64(missPages))
		return
	}

	comp := newCacherCompletion(completion, int64(length))
	comp.addRequest() // issuer hold until every extent is submitted
	for _, extents := range objectExtents {
		for _, extent := range extents {
			bcRead := &bcReadStruct{
				comp:    comp,
				tree:    tree,
				extent:  extent,
				start:   offset,
				end:     end,
				userBuf: buf,
			}
			comp.addRequest()
			logger.Tracef("readBuffer(): object %s %d~%d from %d pages",
				extent.ObjectName, extent.ObjectOffset, extent.Length, len(extent.PageRefs))
			globals.objectBackend.ReadSparse(extent.ObjectName, extent.ObjectOffset, extent.Length, snapID,
				func(result *SparseReadResult, readErr error) {
					completeRead(bcRead, result, readErr)
				})
		}
	}
	comp.completeRequest(0)

	err = nil
	return
}

// bcReadStruct is the context of one in-flight backend sparse read.
type bcReadStruct struct {
	comp    *cacherCompletionStruct
	tree    *pageTreeStruct
	extent  *ObjectExtent
	start   uint64 // user request byte range within the image
	end     uint64
	userBuf []byte
}

// completeRead is the completion side of the read path: it scatters the
// sparse response into the target pages (holes become zero fill), copies
// the requested slices out to the caller, and links the pages into their
// CAR lists.
func completeRead(bcRead *bcReadStruct, result *SparseReadResult, err error) {
	numPages := len(bcRead.extent.PageRefs)
	logger.Tracef("completeRead(): object %s err=%v", bcRead.extent.ObjectName, err)

	if (nil != err) && blunder.IsNot(err, blunder.NotFoundError) {
		logger.ErrorfWithError(err, "completeRead(): read of object %s failed", bcRead.extent.ObjectName)
		globals.treeLock.Lock()
		for _, pageRef := range bcRead.extent.PageRefs {
			pageRef.Page.onRead = false
			errorReleasePage(bcRead.tree, pageRef.Page)
		}
		wakeTreeWaiters()
		globals.treeLock.Unlock()
		atomic.AddInt64(&globals.inflightPages, -int64(numPages))
		bcRead.comp.completeRequest(blunder.Rval(err))
		return
	}

	// NotFound reads scatter an empty extent set, zero filling every page
	var sparseExtents []SparseExtent
	var data []byte
	if (nil == err) && (nil != result) {
		sparseExtents = result.Extents
		data = result.Data
	}

	fillPagesFromSparse(bcRead.extent, sparseExtents, data)

	stats.IncrementOperationsAndBytes(stats.BackendObjGet, bcRead.extent.Length)

	for _, pageRef := range bcRead.extent.PageRefs {
		copyPageToUser(pageRef.Page, bcRead.start, bcRead.end, bcRead.userBuf)
	}

	globals.treeLock.Lock()
	for _, pageRef := range bcRead.extent.PageRefs {
		page := pageRef.Page
		if !page.onRead {
			logger.PanicfWithError(nil, "completeRead(): %v lost its onRead mark", page)
		}
		page.onRead = false
		globals.carState.insertPage(page)
	}
	wakeTreeWaiters()
	globals.treeLock.Unlock()

	atomic.AddInt64(&globals.inflightPages, -int64(numPages))
	bcRead.comp.completeRequest(int64(bcRead.extent.Length))
}

// errorReleasePage drops a failed-fill page: out of the image index, out of
// its (held) CAR class accounting, and back onto the free frame list so no
// stale bytes can ever be served under its identity.
//
// The caller must hold treeLock.
func errorReleasePage(tree *pageTreeStruct, page *Page) {
	page.onRead = false
	tree.eraseExact(page)
	globals.carState.dropHeldPage(page)
	pushFreeFrame(page)
}

// fillPagesFromSparse scatters a sparse object read into the extent's
// pages. Any page byte not covered by a populated extent is zeroed.
func fillPagesFromSparse(extent *ObjectExtent, sparseExtents []SparseExtent, data []byte) {
	dataOffsets := make([]uint64, len(sparseExtents))
	var accumulated uint64
	for sparseIndex, sparseExtent := range sparseExtents {
		dataOffsets[sparseIndex] = accumulated
		accumulated += sparseExtent.Length
	}

	for _, pageRef := range extent.PageRefs {
		page := pageRef.Page
		pageLo := pageRef.ObjectOffset
		pageHi := pageLo + globals.pageLength

		fillPos := pageLo
		for sparseIndex, sparseExtent := range sparseExtents {
			sparseLo := sparseExtent.ObjectOffset
			sparseHi := sparseLo + sparseExtent.Length
			if sparseHi <= pageLo {
				continue
			}
			if sparseLo >= pageHi {
				break
			}
			overlapLo := max64(sparseLo, pageLo)
			overlapHi := min64(sparseHi, pageHi)
			if overlapLo > fillPos {
				zeroFill(page.buf[fillPos-pageLo : overlapLo-pageLo])
			}
			copy(page.buf[overlapLo-pageLo:overlapHi-pageLo],
				data[dataOffsets[sparseIndex]+(overlapLo-sparseLo):dataOffsets[sparseIndex]+(overlapHi-sparseLo)])
			fillPos = overlapHi
		}
		if fillPos < pageHi {
			zeroFill(page.buf[fillPos-pageLo:])
		}
	}
}

// writeBuffer implements WriteBuffer.
//
// Fully covered pages are copied in and dirtied immediately. A partially
// covered page that misses is first populated by a backend read (its
// remaining bytes would otherwise be undefined when flushed); the user's
// bytes are applied, and the page dirtied, in the fill completion. The user
// completion is gated on the fills and then on the writeback policy.
func writeBuffer(imageID uint64, offset uint64, length uint64, buf []byte, completion Completion, opFlags int, snapc SnapContext) (err error) {
	logger.Tracef("writeBuffer(): image=%d offset=%d length=%d", imageID, offset, length)

	if 0 == length {
		completion.Complete(0)
		err = nil
		return
	}
	if uint64(len(buf)) < length {
		err = blunder.NewError(blunder.InvalidArgError, "writeBuffer(): buffer of %d bytes cannot supply %d bytes", len(buf), length)
		return
	}

	handle, tree, ghostTree, err := fetchImage(imageID)
	if nil != err {
		return
	}

	alignOffset := offset - offset%globals.pageLength
	numPages := computeNumPages(offset, length)
	if numPages >= globals.totalHalfPages {
		err = blunder.NewError(blunder.InvalidArgError, "writeBuffer(): request of %d pages exceeds the %d page pool", numPages, globals.totalHalfPages)
		return
	}

	completion = opStatsCompletion(time.Now(), &globals.stats.WriteUsec, &globals.stats.WriteBytes, length, stats.CacheWrite, completion)

	pages := make([]*Page, numPages)
	hit := make([]bool, numPages)
	end := offset + length
	firstPartial := 0 != offset%globals.pageLength
	lastPartial := 0 != end%globals.pageLength

	var needFill []*Page

	globals.treeLock.Lock()
	err = getPages(imageID, tree, ghostTree, pages, hit, numPages, alignOffset, false)
	if nil != err {
		globals.treeLock.Unlock()
		return
	}

	for idx, page := range pages {
		partial := ((0 == idx) && firstPartial) || ((uint32(idx) == numPages-1) && lastPartial)
		if !hit[idx] && partial {
			// read-modify-write: populate before applying the slice
			page.onRead = true
			needFill = append(needFill, page)
		}
	}
	atomic.AddInt64(&globals.inflightPages, int64(len(needFill)))

	// under writethrough the pages are never dirtied: the covering object
	// writes are submitted synchronously below and their completions
	// re-link whatever is detached, so the dirty count stays at zero
	globals.dirtyPageLock.Lock()
	writethrough := globals.dirtyPageState.writethrough()
	for _, page := range pages {
		if page.onRead {
			continue
		}
		copyUserToPage(page, offset, end, buf)
		if !writethrough {
			if !page.dirty {
				globals.carState.makeDirty(page)
			}
			globals.dirtyPageState.markDirty(page)
		}
	}
	globals.dirtyPageLock.Unlock()
	globals.treeLock.Unlock()

	if 0 == len(needFill) {
		writePolicyStep(handle, pages, alignOffset, numPages, writethrough, completion, snapc)
		err = nil
		return
	}

	fillDone := CompletionFunc(func(rval int64) {
		if rval < 0 {
			globals.treeLock.Lock()
			for _, page := range needFill {
				page.onRead = false
				errorReleasePage(tree, page)
			}
			wakeTreeWaiters()
			globals.treeLock.Unlock()
			atomic.AddInt64(&globals.inflightPages, -int64(len(needFill)))
			completion.Complete(rval)
			return
		}

		globals.treeLock.Lock()
		globals.dirtyPageLock.Lock()
		for _, page := range needFill {
			page.onRead = false
			copyUserToPage(page, offset, end, buf)
			if !writethrough {
				globals.dirtyPageState.markDirty(page)
			}
		}
		globals.dirtyPageLock.Unlock()
		wakeTreeWaiters()
		globals.treeLock.Unlock()
		atomic.AddInt64(&globals.inflightPages, -int64(len(needFill)))

		writePolicyStep(handle, pages, alignOffset, numPages, writethrough, completion, snapc)
	})

	fillAgg := newCacherCompletion(fillDone, 0)
	fillAgg.addRequest() // issuer hold
	for _, fillPage := range needFill {
		fillExtents, fillErr := globals.striper.FileToPages(handle, fillPage.offset, globals.pageLength, []*Page{fillPage}, globals.pageLength)
		if nil != fillErr {
			logger.ErrorfWithError(fillErr, "writeBuffer(): striper failed for fill of %v", fillPage)
			fillAgg.completeRequest(blunder.Rval(blunder.AddError(fillErr, blunder.IOError)))
			continue
		}
		for _, extents := range fillExtents {
			for _, extent := range extents {
				fillAgg.addRequest()
				fillExtent := extent
				globals.objectBackend.ReadSparse(fillExtent.ObjectName, fillExtent.ObjectOffset, fillExtent.Length, 0,
					func(result *SparseReadResult, readErr error) {
						if (nil != readErr) && blunder.IsNot(readErr, blunder.NotFoundError) {
							fillAgg.completeRequest(blunder.Rval(readErr))
							return
						}
						var sparseExtents []SparseExtent
						var data []byte
						if (nil == readErr) && (nil != result) {
							sparseExtents = result.Extents
							data = result.Data
						}
						fillPagesFromSparse(fillExtent, sparseExtents, data)
						fillAgg.completeRequest(0)
					})
			}
		}
	}
	fillAgg.completeRequest(0)

	err = nil
	return
}

// writePolicyStep finishes a write per the dirty policy: synchronous
// writeback under writethrough, flusher-gated completion above the dirty
// target, immediate completion otherwise.
func writePolicyStep(handle ImageHandle, pages []*Page, alignOffset uint64, numPages uint32, writethrough bool, completion Completion, snapc SnapContext) {
	if writethrough {
		logger.Tracef("writePolicyStep(): writethrough")
		objectExtents, err := globals.striper.FileToPages(handle, alignOffset, uint64(numPages)*globals.pageLength, pages, globals.pageLength)
		if nil != err {
			logger.ErrorfWithError(err, "writePolicyStep(): striper failed")
			completion.Complete(blunder.Rval(blunder.AddError(err, blunder.IOError)))
			return
		}
		comp := newCacherCompletion(completion, 0)
		comp.addRequest()
		flushObjectExtent(handle, objectExtents, comp, snapc)
		comp.completeRequest(0)
		return
	}

	if globals.dirtyPageState.needWriteback() {
		logger.Tracef("writePolicyStep(): exceeded dirty target, waiting for writeback")
		globals.flushLock.Lock()
		globals.waitWriteback = append(globals.waitWriteback, completion)
		globals.flushLock.Unlock()
		signalFlusher()
		return
	}

	completion.Complete(0)
}

// discard zeroes the cached intersection of the byte range. Misses are a
// no-op.
func discard(imageID uint64, offset uint64, length uint64) (err error) {
	logger.Tracef("discard(): image=%d offset=%d length=%d", imageID, offset, length)

	if 0 == length {
		err = nil
		return
	}

	_, tree, _, err := fetchImage(imageID)
	if nil != err {
		return
	}

	alignOffset := offset - offset%globals.pageLength
	numPages := computeNumPages(offset, length)
	end := offset + length

	pages := make([]*Page, numPages)
	hit := make([]bool, numPages)

	globals.treeLock.Lock()
	_ = getPages(imageID, tree, nil, pages, hit, numPages, alignOffset, true)
	for idx, page := range pages {
		if !hit[idx] {
			continue
		}
		pageLo := page.offset
		pageHi := pageLo + globals.pageLength
		zeroLo := max64(offset, pageLo)
		zeroHi := min64(end, pageHi)
		zeroFill(page.buf[zeroLo-pageLo : zeroHi-pageLo])
		logger.Tracef("discard(): zero(%d, %d)", zeroLo, zeroHi-zeroLo)
	}
	globals.treeLock.Unlock()

	stats.IncrementOperations(&stats.BlockCacheDiscardOps)

	err = nil
	return
}

// purge violently empties the image's index. Replacement-state bookkeeping
// is intentionally left alone; the caller knows there is nothing dirty.
func purge(imageID uint64) {
	logger.Tracef("purge(): image=%d", imageID)

	_, tree, _, err := fetchImage(imageID)
	if nil != err {
		return
	}

	globals.treeLock.Lock()
	tree.clear()
	globals.treeLock.Unlock()
}

// userFlush implements UserFlush: switch out of pass-through, flush
// everything dirty, and arm (or immediately fire) the flush barrier.
func userFlush(completion Completion) {
	logger.Tracef("userFlush()")

	globals.dirtyPageLock.Lock()
	globals.dirtyPageState.setWriteback()
	globals.dirtyPageLock.Unlock()

	flushPages(0, nil)

	stats.IncrementOperations(&stats.BlockCacheFlushOps)

	globals.flushLock.Lock()
	commit := globals.flushCommits[globals.flushID]
	if 0 == commit.pending {
		// nothing outstanding under this id; fire now and recycle it
		globals.flushLock.Unlock()
		completion.Complete(0)
		return
	}
	commit.completion = completion
	globals.flushID++
	globals.flushCommits[globals.flushID] = &flushCommitStruct{}
	globals.flushLock.Unlock()
}

// helpers

func computeNumPages(offset uint64, length uint64) (numPages uint32) {
	alignOffset := offset - offset%globals.pageLength
	numPages = uint32((length + offset - alignOffset) / globals.pageLength)
	if 0 != (offset+length)%globals.pageLength {
		numPages++
	}
	return
}

// copyPageToUser copies the page's intersection with the user byte range
// [start, end) out to userBuf.
func copyPageToUser(page *Page, start uint64, end uint64, userBuf []byte) {
	pageLo := page.offset
	pageHi := pageLo + globals.pageLength
	copyLo := max64(start, pageLo)
	copyHi := min64(end, pageHi)
	if copyLo >= copyHi {
		return
	}
	copy(userBuf[copyLo-start:copyHi-start], page.buf[copyLo-pageLo:copyHi-pageLo])
}

// copyUserToPage copies the page's intersection with the user byte range
// [start, end) in from userBuf.
func copyUserToPage(page *Page, start uint64, end uint64, userBuf []byte) {
	pageLo := page.offset
	pageHi := pageLo + globals.pageLength
	copyLo := max64(start, pageLo)
	copyHi := min64(end, pageHi)
	if copyLo >= copyHi {
		return
	}
	copy(page.buf[copyLo-pageLo:copyHi-pageLo], userBuf[copyLo-start:copyHi-start])
}

func zeroFill(buf []byte) {
	for bufIndex := range buf {
		buf[bufIndex] = 0
	}
}

// missRunsToExtents groups maximal contiguous miss runs and maps each run
// through the striper.
func missRunsToExtents(handle ImageHandle, pages []*Page, hit []bool) (objectExtents map[string][]*ObjectExtent, err error) {
	objectExtents = make(map[string][]*ObjectExtent)

	var run []*Page
	flushRun := func() (flushErr error) {
		var runExtents map[string][]*ObjectExtent

		if 0 == len(run) {
			return nil
		}
		runExtents, flushErr = globals.striper.FileToPages(handle, run[0].offset, uint64(len(run))*globals.pageLength, run, globals.pageLength)
		if nil != flushErr {
			return
		}
		for objectName, extents := range runExtents {
			objectExtents[objectName] = append(objectExtents[objectName], extents...)
		}
		run = nil
		return nil
	}

	for idx, page := range pages {
		if hit[idx] {
			err = flushRun()
			if nil != err {
				return
			}
			continue
		}
		run = append(run, page)
	}
	err = flushRun()
	return
}

// opStatsCompletion wraps a user completion with operation statistics.
func opStatsCompletion(start time.Time, usecBucket *bucketstats.BucketLog2Round, bytesBucket *bucketstats.BucketLog2Round, length uint64, multiStat stats.MultipleStat, wrapped Completion) (completion Completion) {
	completion = CompletionFunc(func(rval int64) {
		usecBucket.Add(uint64(time.Since(start).Microseconds()))
		bytesBucket.Add(length)
		stats.IncrementOperationsAndBytes(multiStat, length)
		wrapped.Complete(rval)
	})
	return
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
