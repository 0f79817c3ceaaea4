package trackedlock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/transitions"
)

func init() {
	transitions.Register("trackedlock", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	var (
		lockHoldTimeLimit time.Duration
		lockCheckPeriod   time.Duration
	)

	// both options default to 0 (tracking and watcher disabled)
	lockHoldTimeLimit, err = confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	if nil != err {
		lockHoldTimeLimit = 0
	}
	lockCheckPeriod, err = confMap.FetchOptionValueDuration("TrackedLock", "LockCheckPeriod")
	if nil != err {
		lockCheckPeriod = 0
	}
	err = nil

	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(lockHoldTimeLimit))
	globals.lockCheckPeriod = lockCheckPeriod

	if (0 != lockHoldTimeLimit) && (0 != lockCheckPeriod) {
		globals.stopChan = make(chan struct{})
		globals.doneChan = make(chan struct{})
		globals.watcherUp = true
		go watcher()
		logger.Infof("trackedlock: tracking enabled; LockHoldTimeLimit %v LockCheckPeriod %v",
			lockHoldTimeLimit, lockCheckPeriod)
	}

	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	if globals.watcherUp {
		globals.stopChan <- struct{}{}
		<-globals.doneChan
		globals.watcherUp = false
	}

	atomic.StoreInt64(&globals.lockHoldTimeLimit, 0)

	globals.mapMutex.Lock()
	globals.heldLocks = make(map[interface{}]*mutexTrack)
	globals.mapMutex.Unlock()

	err = nil
	return
}
