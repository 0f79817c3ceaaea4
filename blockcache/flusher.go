package blockcache

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/stats"
)

// bcWriteStruct is the context of one in-flight (or retry-queued) object
// write carrying the concatenated buffers of a coalesced page run.
type bcWriteStruct struct {
	comp    *cacherCompletionStruct
	handle  ImageHandle
	extent  *ObjectExtent
	data    []byte
	flushID uint64
}

// signalFlusher nudges the flusher without blocking; a wakeup already
// pending is enough.
func signalFlusher() {
	select {
	case globals.flusherWakeChan <- struct{}{}:
	default:
	}
}

// flusher is the dedicated writeback goroutine: it re-submits retry writes,
// drains dirty pages above the target (or past their age limit), and
// releases writers queued behind writeback pressure. On shutdown it cancels
// queued retries and waits out every in-flight page.
func flusher() {
	logger.Tracef("flusher(): start")

	for {
		select {
		case <-globals.flusherWakeChan:
		case <-time.After(time.Second):
		}

		globals.flushLock.Lock()
		if globals.flusherStop {
			globals.flushLock.Unlock()
			break
		}
		retryWrites := globals.flushRetryWrites
		globals.flushRetryWrites = make([]*bcWriteStruct, 0)
		globals.flushLock.Unlock()

		for _, bcWrite := range retryWrites {
			logger.Tracef("flusher(): retrying write of object %s", bcWrite.extent.ObjectName)
			stats.IncrementOperations(&stats.BackendPutRetries)
			// reload the image's snapshot context before re-submitting
			submitWrite(bcWrite, bcWrite.handle.SnapContext())
		}

		globals.dirtyPageLock.Lock()
		numFlush := globals.dirtyPageState.needWritebackPages()
		agedFlush := globals.dirtyPageState.agedPages()
		globals.dirtyPageLock.Unlock()
		if agedFlush > numFlush {
			numFlush = agedFlush
		}

		if 0 != numFlush {
			logger.Tracef("flusher(): flushing %d pages", numFlush)
			flushPages(numFlush, CompletionFunc(func(rval int64) {
				signalFlusher()
			}))
		}

		globals.flushLock.Lock()
		waiters := globals.waitWriteback
		globals.waitWriteback = make([]Completion, 0)
		globals.flushLock.Unlock()
		if 0 != len(waiters) {
			for _, completion := range waiters {
				completion.Complete(0)
			}
			signalFlusher()
		}
	}

	// shutdown: cancel queued retries first (they hold in-flight page
	// accounting), then wait for every in-flight page to complete so no
	// backend completion can land on a torn-down cache
	globals.flushLock.Lock()
	retryWrites := globals.flushRetryWrites
	globals.flushRetryWrites = make([]*bcWriteStruct, 0)
	globals.flushLock.Unlock()
	for _, bcWrite := range retryWrites {
		logger.Warnf("flusher(): canceling retry write of object %s at shutdown", bcWrite.extent.ObjectName)
		completeWrite(bcWrite, blunder.NewError(blunder.CanceledError, "canceled at shutdown"), true)
	}

	globals.flushLock.Lock()
	waiters := globals.waitWriteback
	globals.waitWriteback = make([]Completion, 0)
	globals.flushLock.Unlock()
	for _, completion := range waiters {
		completion.Complete(0)
	}

	globals.treeLock.Lock()
	for atomic.LoadInt64(&globals.inflightPages) > 0 {
		logger.Tracef("flusher(): waiting for %d in-flight pages", atomic.LoadInt64(&globals.inflightPages))
		globals.readPageWait = true
		globals.writePageWait = true
		globals.treeCond.Wait()
	}
	globals.treeLock.Unlock()

	globals.flushLock.Lock()
	commit, ok := globals.flushCommits[globals.flushID]
	if ok && (0 != commit.pending) {
		logger.Errorf("flusher(): flush id %d still has %d pending writes at shutdown", globals.flushID, commit.pending)
	}
	delete(globals.flushCommits, globals.flushID)
	globals.flushLock.Unlock()

	logger.Tracef("flusher(): finish")
	globals.flusherDoneChan <- struct{}{}
}

// flushPages detaches up to num dirty pages (0 means all), partitions them
// by image, coalesces contiguous runs into object extents, and submits one
// backend write per extent. Pages of images unregistered in the meantime
// are discarded back into their CAR classes.
func flushPages(num uint32, completion Completion) {
	logger.Tracef("flushPages(): num=%d", num)

	sortedFlush := make(map[uint64]*pageTreeStruct)

	globals.dirtyPageLock.Lock()
	globals.dirtyPageState.writebackPages(sortedFlush, num)
	globals.dirtyPageLock.Unlock()

	for imageID, imageTree := range sortedFlush {
		globals.ictxMgmtLock.RLock()
		var handle ImageHandle
		if imageID < uint64(len(globals.registeredImages)) {
			handle = globals.registeredImages[imageID]
		}
		globals.ictxMgmtLock.RUnlock()

		if nil == handle {
			logger.Warnf("flushPages(): image %d already unregistered, discarding its dirty pages", imageID)
			discardDetachedPages(imageTree)
			continue
		}

		objectExtents := prepareContinuousPages(handle, imageTree)
		snapc := handle.SnapContext()
		comp := newCacherCompletion(completion, 0)
		comp.addRequest() // issuer hold until every extent is submitted
		flushObjectExtent(handle, objectExtents, comp, snapc)
		comp.completeRequest(0)
	}
}

// discardDetachedPages re-inserts just-detached dirty pages as clean cache
// residents (their image is gone; there is nothing to write them to).
func discardDetachedPages(imageTree *pageTreeStruct) {
	globals.dirtyPageLock.Lock()
	for treeIndex := 0; treeIndex < imageTree.len(); treeIndex++ {
		_, value, ok, err := imageTree.tree.GetByIndex(treeIndex)
		if (nil != err) || !ok {
			logger.PanicfWithError(err, "discardDetachedPages(): GetByIndex(%d) failed", treeIndex)
		}
		page := value.(*Page)
		if page.onRead {
			logger.PanicfWithError(nil, "discardDetachedPages(): %v has a read in flight", page)
		}
		if !page.dirty && (locDetached == page.location) {
			globals.carState.insertPage(page)
		}
	}
	globals.dirtyPageLock.Unlock()

	globals.treeLock.Lock()
	wakeTreeWaiters()
	globals.treeLock.Unlock()
}

// prepareContinuousPages groups pages at consecutive page-aligned offsets
// into runs and maps each run through the striper, producing exactly one
// backend write per resulting ObjectExtent.
func prepareContinuousPages(handle ImageHandle, imageTree *pageTreeStruct) (objectExtents map[string][]*ObjectExtent) {
	logger.Tracef("prepareContinuousPages(): %d pages", imageTree.len())

	objectExtents = make(map[string][]*ObjectExtent)

	var run []*Page
	flushRun := func() {
		if 0 == len(run) {
			return
		}
		runExtents, err := globals.striper.FileToPages(handle, run[0].offset, uint64(len(run))*globals.pageLength, run, globals.pageLength)
		if nil != err {
			logger.PanicfWithError(err, "prepareContinuousPages(): striper failed for run at offset %d", run[0].offset)
		}
		for objectName, extents := range runExtents {
			objectExtents[objectName] = append(objectExtents[objectName], extents...)
		}
		run = nil
	}

	numPages := imageTree.len()
	for treeIndex := 0; treeIndex < numPages; treeIndex++ {
		_, value, ok, err := imageTree.tree.GetByIndex(treeIndex)
		if (nil != err) || !ok {
			logger.PanicfWithError(err, "prepareContinuousPages(): GetByIndex(%d) failed", treeIndex)
		}
		page := value.(*Page)
		if (0 != len(run)) && (page.offset != run[len(run)-1].offset+globals.pageLength) {
			flushRun()
		}
		run = append(run, page)
	}
	flushRun()
	return
}

// flushObjectExtent builds one write per ObjectExtent, publishing it under
// the current flush id before submitting so a completion can never race
// past the barrier.
func flushObjectExtent(handle ImageHandle, objectExtents map[string][]*ObjectExtent, comp *cacherCompletionStruct, snapc SnapContext) {
	for _, extents := range objectExtents {
		for _, extent := range extents {
			bcWrite := &bcWriteStruct{
				comp:   comp,
				handle: handle,
				extent: extent,
			}
			comp.addRequest()

			// snapshot the page bytes under the dirty lock; writers mutate
			// page buffers under it
			globals.dirtyPageLock.Lock()
			data := make([]byte, 0, uint64(len(extent.PageRefs))*globals.pageLength)
			for _, pageRef := range extent.PageRefs {
				data = append(data, pageRef.Page.buf...)
			}
			globals.dirtyPageLock.Unlock()
			bcWrite.data = data

			atomic.AddInt64(&globals.inflightPages, int64(len(extent.PageRefs)))
			globals.stats.WritebackExtents.Add(uint64(len(extent.PageRefs)))
			stats.IncrementOperationsBy(&stats.BlockCacheWritebackPages, uint64(len(extent.PageRefs)))

			globals.flushLock.Lock()
			bcWrite.flushID = globals.flushID
			globals.flushCommits[globals.flushID].pending++
			globals.flushLock.Unlock()

			logger.Tracef("flushObjectExtent(): object %s %d~%d (%d pages, flush id %d)",
				extent.ObjectName, extent.ObjectOffset, extent.Length, len(extent.PageRefs), bcWrite.flushID)
			submitWrite(bcWrite, snapc)
		}
	}
}

func submitWrite(bcWrite *bcWriteStruct, snapc SnapContext) {
	globals.objectBackend.Write(bcWrite.extent.ObjectName, bcWrite.extent.ObjectOffset, bcWrite.data, snapc,
		func(err error) {
			completeWrite(bcWrite, err, false)
		})
}

// completeWrite is the completion side of the writeback pipeline. Failed
// writes are queued for the flusher to retry (unless the failure is a
// NotFound, which a write must never see, or the cache is shutting down).
// Final completions retire the flush barrier accounting and re-link pages
// that were not re-dirtied while in flight.
func completeWrite(bcWrite *bcWriteStruct, err error, noretry bool) {
	logger.Tracef("completeWrite(): object %s err=%v", bcWrite.extent.ObjectName, err)

	if (nil != err) && !noretry && blunder.IsNot(err, blunder.NotFoundError) {
		globals.flushLock.Lock()
		if !globals.flusherStop {
			logger.WarnfWithError(err, "completeWrite(): queueing write of object %s for retry", bcWrite.extent.ObjectName)
			globals.stats.WritebackRetries.Increment()
			globals.flushRetryWrites = append(globals.flushRetryWrites, bcWrite)
			globals.flushLock.Unlock()
			signalFlusher()
			return
		}
		globals.flushLock.Unlock()
		err = blunder.NewError(blunder.CanceledError, "write of object %s canceled at shutdown", bcWrite.extent.ObjectName)
	}
	if (nil != err) && blunder.Is(err, blunder.NotFoundError) {
		logger.ErrorfWithError(err, "completeWrite(): write of object %s returned NotFound", bcWrite.extent.ObjectName)
	}

	globals.flushLock.Lock()
	commit := globals.flushCommits[bcWrite.flushID]
	commit.pending--
	if (0 == commit.pending) && (globals.flushID > bcWrite.flushID) {
		logger.Tracef("completeWrite(): completing flush id %d", bcWrite.flushID)
		barrierCompletion := commit.completion
		delete(globals.flushCommits, bcWrite.flushID)
		globals.flushLock.Unlock()
		if nil != barrierCompletion {
			barrierCompletion.Complete(0)
		}
	} else {
		globals.flushLock.Unlock()
	}

	globals.dirtyPageLock.Lock()
	for _, pageRef := range bcWrite.extent.PageRefs {
		page := pageRef.Page
		if page.onRead {
			logger.PanicfWithError(nil, "completeWrite(): %v has a read in flight", page)
		}
		// skip pages re-dirtied while in flight (still on the dirty FIFO)
		// and pages an overlapping earlier writeback already re-linked
		if !page.dirty && (locDetached == page.location) {
			globals.carState.insertPage(page)
		}
	}
	globals.dirtyPageLock.Unlock()

	if nil == err {
		stats.IncrementOperationsAndBytes(stats.BackendObjPut, uint64(len(bcWrite.data)))
	}

	atomic.AddInt64(&globals.inflightPages, -int64(len(bcWrite.extent.PageRefs)))

	bcWrite.comp.completeRequest(blunder.Rval(err))

	globals.treeLock.Lock()
	wakeTreeWaiters()
	globals.treeLock.Unlock()
}
