package blockcache

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/blockcache/logger"
)

// cacherCompletionStruct fans a set of backend sub-requests back into one
// user Completion. The first negative sub-result wins; otherwise the
// completion fires with successRval. The wrapped completion fires exactly
// once, when the last outstanding sub-request completes.
type cacherCompletionStruct struct {
	lock        sync.Mutex
	count       int64
	rval        int64 // first negative sub-result, else successRval
	successRval int64
	wrapped     Completion // may be nil (fire-and-forget aggregates)
}

func newCacherCompletion(wrapped Completion, successRval int64) (comp *cacherCompletionStruct) {
	comp = &cacherCompletionStruct{rval: successRval, successRval: successRval, wrapped: wrapped}
	return
}

// addRequest accounts one more sub-request. It must be called before the
// sub-request can possibly complete.
func (comp *cacherCompletionStruct) addRequest() {
	atomic.AddInt64(&comp.count, 1)
}

// completeRequest retires one sub-request, folding its result in. When the
// outstanding count reaches zero the wrapped completion fires.
func (comp *cacherCompletionStruct) completeRequest(rval int64) {
	comp.lock.Lock()
	if (comp.rval >= 0) && (rval < 0) {
		comp.rval = rval
	}
	comp.lock.Unlock()

	remaining := atomic.AddInt64(&comp.count, -1)
	if remaining < 0 {
		logger.PanicfWithError(nil, "cacherCompletion.completeRequest(): count went negative")
	}
	if 0 == remaining {
		if nil != comp.wrapped {
			comp.wrapped.Complete(comp.rval)
		}
	}
}
