// Package blockcache implements a block-level page cache between a
// block-device client and an asynchronous object-store backend.
//
// Byte-range reads and writes against registered images are absorbed into
// fixed-size pages. Dirty pages are coalesced into object-aligned writebacks
// by a background flusher. Page admission and eviction follow the CAR (Clock
// with Adaptive Replacement) policy with ghost-entry history:
//   https://www.usenix.org/conference/fast-04/car-clock-adaptive-replacement
//
// The cache is volatile; it keeps no persistent state.
package blockcache

// Completion is the callback attached to the cache's asynchronous
// operations. Complete() is invoked exactly once with a negative errno on
// failure or a non-negative byte count on success. It may be invoked on any
// goroutine, including the caller's.
type Completion interface {
	Complete(rval int64)
}

// CompletionFunc adapts an ordinary function to the Completion interface.
type CompletionFunc func(rval int64)

func (completionFunc CompletionFunc) Complete(rval int64) {
	completionFunc(rval)
}

// SnapContext names the snapshot state a write is performed against. It is
// passed through to the ObjectBackend untouched.
type SnapContext struct {
	SeqID   uint64
	SnapIDs []uint64
}

// ImageLayout describes how an image's bytes are striped across objects.
type ImageLayout struct {
	ObjectBytes uint64 // bytes per object; must be a multiple of the page length
}

// ImageHandle is the cache's view of an image. Implementations guard their
// snapshot context with their own lock; SnapContext() is called briefly
// before each writeback submit.
type ImageHandle interface {
	Layout() (layout ImageLayout)
	FormatString() (formatString string) // fmt template rendering an object number into an object name
	SnapContext() (snapc SnapContext)
}

// PageRef names one page's placement within an ObjectExtent.
type PageRef struct {
	ObjectOffset uint64 // intra-object offset covered by this page
	Page         *Page
}

// ObjectExtent is one contiguous object byte range produced by a Striper,
// carrying the cache pages that back it in ascending ObjectOffset order.
type ObjectExtent struct {
	ObjectName   string
	ObjectNumber uint64
	ObjectOffset uint64
	Length       uint64
	PageRefs     []PageRef
}

// Striper maps an image byte range onto object extents. The supplied pages
// back the range in ascending image-offset order and every page is
// referenced by exactly one of the produced extents.
type Striper interface {
	FileToPages(handle ImageHandle, offset uint64, length uint64, pages []*Page, pageLength uint64) (objectExtents map[string][]*ObjectExtent, err error)
}

// SparseExtent is one populated byte range within a sparse object read.
type SparseExtent struct {
	ObjectOffset uint64
	Length       uint64
}

// SparseReadResult is what an ObjectBackend delivers for a sparse read:
// the populated extents in ascending ObjectOffset order and their
// concatenated bytes. Ranges not covered by any extent are holes.
type SparseReadResult struct {
	Extents []SparseExtent
	Data    []byte
}

// ReadSparseCompletion delivers a sparse read's outcome. A blunder
// NotFoundError err means the object does not exist (the cache treats it as
// all zeroes). The result's buffers must not be retained by the cache past
// the callback's return, nor the page buffers by the backend.
type ReadSparseCompletion func(result *SparseReadResult, err error)

// WriteCompletion delivers an object write's outcome.
type WriteCompletion func(err error)

// ObjectBackend is the asynchronous object store the cache reads and writes
// through. Completions may fire on any goroutine; the cache never blocks on
// the backend.
type ObjectBackend interface {
	ReadSparse(objectName string, objectOffset uint64, length uint64, snapID uint64, completion ReadSparseCompletion)
	Write(objectName string, objectOffset uint64, data []byte, snapc SnapContext, completion WriteCompletion)
}

// SetObjectBackend supplies the object store the cache operates against.
// It must be called after Up() and before the first image registration.
func SetObjectBackend(objectBackend ObjectBackend) {
	globals.objectBackend = objectBackend
}

// SetStriper supplies the file-to-object striping function. It must be
// called after Up() and before the first image registration.
func SetStriper(striper Striper) {
	globals.striper = striper
}

// RegisterImage makes an image known to the cache and returns its dense
// image id. Registering an already-registered handle returns the existing
// id.
func RegisterImage(handle ImageHandle) (imageID uint64) {
	imageID = registerImage(handle)
	return
}

// UnregisterImage evicts and discards the image's cached pages. It must not
// be called while I/O against the image is in flight; dirty pages not yet
// picked up by the flusher are silently discarded.
func UnregisterImage(handle ImageHandle) {
	unregisterImage(handle)
}

// ReadBuffer reads [offset, offset+length) of the image into buf. Cache hits
// are copied out synchronously; misses are fetched from the backend. The
// completion fires with length on success.
func ReadBuffer(imageID uint64, offset uint64, length uint64, buf []byte, completion Completion, snapID uint64, opFlags int) (err error) {
	err = readBuffer(imageID, offset, length, buf, completion, snapID, opFlags)
	return
}

// WriteBuffer writes buf into [offset, offset+length) of the image. The
// bytes are visible to subsequent reads as soon as WriteBuffer returns. The
// completion fires per the current policy: under writethrough after the
// object writes; under writeback immediately, or after the flusher's next
// writeback pass while dirty pages exceed the target. A partial write to an
// uncached page additionally waits for the backend read that fills it.
func WriteBuffer(imageID uint64, offset uint64, length uint64, buf []byte, completion Completion, opFlags int, snapc SnapContext) (err error) {
	err = writeBuffer(imageID, offset, length, buf, completion, opFlags, snapc)
	return
}

// UserFlush switches the cache out of its initial pass-through mode and
// flushes all dirty pages. The completion fires once every writeback
// submitted before the flush has completed.
func UserFlush(completion Completion) {
	userFlush(completion)
}

// Discard zeroes the cached intersection of [offset, offset+length).
// Non-resident parts of the range are untouched.
func Discard(imageID uint64, offset uint64, length uint64) (err error) {
	err = discard(imageID, offset, length)
	return
}

// Purge violently drops the image's index without touching replacement-state
// bookkeeping. The caller is responsible for knowing the image has no dirty
// pages.
func Purge(imageID uint64) {
	purge(imageID)
}
