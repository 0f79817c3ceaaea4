package blockcache

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/blockcache/logger"
)

// pageTreeStruct is an ordered map offset -> *Page over a sortedmap
// LLRBTree. Each registered image owns two: its index (populated pages) and
// its ghost index (history-only pages).
type pageTreeStruct struct {
	tree sortedmap.LLRBTree
}

func newPageTree() (pageTree *pageTreeStruct) {
	pageTree = &pageTreeStruct{}
	pageTree.tree = sortedmap.NewLLRBTree(sortedmap.CompareUint64, pageTree)
	return
}

// DumpKey/DumpValue implement sortedmap.LLRBTreeCallbacks.

func (pageTree *pageTreeStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = fmt.Sprintf("0x%016X", key.(uint64))
	err = nil
	return
}

func (pageTree *pageTreeStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = value.(*Page).String()
	err = nil
	return
}

func (pageTree *pageTreeStruct) insert(page *Page) {
	ok, err := pageTree.tree.Put(page.offset, page)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.insert(): Put() of %v failed", page)
	}
	if !ok {
		logger.PanicfWithError(nil, "pageTree.insert(): offset 0x%016X already present (inserting %v)", page.offset, page)
	}
}

// eraseExact removes the page from the tree only if the tree still maps its
// offset to this exact page. Purge() empties trees behind the replacement
// state's back, so a stale page may find its offset absent or re-occupied
// by a newer tenant; neither must be disturbed.
func (pageTree *pageTreeStruct) eraseExact(page *Page) {
	value, ok, err := pageTree.tree.GetByKey(page.offset)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.eraseExact(): GetByKey() of %v failed", page)
	}
	if !ok || (value.(*Page) != page) {
		return
	}
	_, err = pageTree.tree.DeleteByKey(page.offset)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.eraseExact(): DeleteByKey() of %v failed", page)
	}
}

// getByOffset returns the page at exactly the given offset, if any.
func (pageTree *pageTreeStruct) getByOffset(offset uint64) (page *Page, ok bool) {
	value, ok, err := pageTree.tree.GetByKey(offset)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.getByOffset(): GetByKey(0x%016X) failed", offset)
	}
	if ok {
		page = value.(*Page)
	}
	return
}

// lowerBound returns the first page whose offset is >= the given offset, if
// any.
func (pageTree *pageTreeStruct) lowerBound(offset uint64) (page *Page, ok bool) {
	index, found, err := pageTree.tree.BisectRight(offset)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.lowerBound(): BisectRight(0x%016X) failed", offset)
	}
	_ = found

	_, value, ok, err := pageTree.tree.GetByIndex(index)
	if nil != err {
		logger.PanicfWithError(err, "pageTree.lowerBound(): GetByIndex(%d) failed", index)
	}
	if ok {
		page = value.(*Page)
	}
	return
}

func (pageTree *pageTreeStruct) len() (numPages int) {
	numPages, err := pageTree.tree.Len()
	if nil != err {
		logger.PanicfWithError(err, "pageTree.len(): Len() failed")
	}
	return
}

// clear empties the tree without touching the pages it referenced.
func (pageTree *pageTreeStruct) clear() {
	pageTree.tree.Reset()
}
