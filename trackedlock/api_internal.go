package trackedlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/utils"
)

// mutexTrack records one exclusive hold of a tracked lock. It is only
// consulted when tracking is enabled (globals.lockHoldTimeLimit != 0).
type mutexTrack struct {
	lockTime   time.Time // time last locked
	lockerGoId uint64    // goroutine id of the locker
	lockStack  []byte    // stack trace of the locker
}

type globalsStruct struct {
	mapMutex          sync.Mutex          // protects heldLocks
	heldLocks         map[interface{}]*mutexTrack
	lockHoldTimeLimit int64               // time.Duration as int64; 0 means no tracking
	lockCheckPeriod   time.Duration       // 0 means no watcher
	stopChan          chan struct{}       // tells the watcher to exit
	doneChan          chan struct{}       // watcher acks exit
	watcherUp         bool
}

var globals globalsStruct

func init() {
	globals.heldLocks = make(map[interface{}]*mutexTrack)
}

func trackingEnabled() bool {
	return atomic.LoadInt64(&globals.lockHoldTimeLimit) != 0
}

func (mt *mutexTrack) lockTrack(lck interface{}) {
	if !trackingEnabled() {
		return
	}

	mt.lockTime = time.Now()
	mt.lockStack = utils.MyStackTrace()
	mt.lockerGoId = utils.StackTraceToGoId(mt.lockStack)

	globals.mapMutex.Lock()
	globals.heldLocks[lck] = mt
	globals.mapMutex.Unlock()
}

func (mt *mutexTrack) unlockTrack(lck interface{}) {
	if !trackingEnabled() {
		return
	}

	globals.mapMutex.Lock()
	_, tracked := globals.heldLocks[lck]
	if tracked {
		delete(globals.heldLocks, lck)
	}
	globals.mapMutex.Unlock()

	// The lock may have been acquired before tracking was enabled.
	if !tracked || mt.lockTime.IsZero() {
		return
	}

	heldFor := time.Since(mt.lockTime)
	if heldFor >= time.Duration(atomic.LoadInt64(&globals.lockHoldTimeLimit)) {
		logger.Warnf("trackedlock: %T at %p held for %v by goroutine %d; locked at:\n%s",
			lck, lck, heldFor, mt.lockerGoId, utils.ByteSliceToString(mt.lockStack))
	}
	mt.lockTime = time.Time{}
	mt.lockStack = nil
}

// The trackedlock watcher periodically checks for locks held longer than the
// hold time limit and logs the stack trace of the goroutine holding them.
func watcher() {
	for {
		select {
		case <-globals.stopChan:
			globals.doneChan <- struct{}{}
			return
		case <-time.After(globals.lockCheckPeriod):
		}

		limit := time.Duration(atomic.LoadInt64(&globals.lockHoldTimeLimit))
		if limit == 0 {
			continue
		}

		globals.mapMutex.Lock()
		for lck, mt := range globals.heldLocks {
			if mt.lockTime.IsZero() {
				continue
			}
			heldFor := time.Since(mt.lockTime)
			if heldFor >= limit {
				logger.Warnf("trackedlock watcher: %T at %p still held after %v by goroutine %d; locked at:\n%s",
					lck, lck, heldFor, mt.lockerGoId, utils.ByteSliceToString(mt.lockStack))
			}
		}
		globals.mapMutex.Unlock()
	}
}
