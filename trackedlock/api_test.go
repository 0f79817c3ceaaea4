package trackedlock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/NVIDIA/blockcache/conf"
)

func testConfMap(t *testing.T, confStrings []string) (confMap conf.ConfMap) {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}
	return
}

func TestUntrackedLocks(t *testing.T) {
	confMap := testConfMap(t, []string{
		"TrackedLock.LockHoldTimeLimit=0s",
		"TrackedLock.LockCheckPeriod=0s",
	})

	err := globals.Up(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Up() failed: %v", err)
	}

	var mutex Mutex
	mutex.Lock()
	mutex.Unlock()

	var rwMutex RWMutex
	rwMutex.Lock()
	rwMutex.Unlock()
	rwMutex.RLock()
	rwMutex.RUnlock()

	if 0 != len(globals.heldLocks) {
		t.Fatalf("heldLocks should be empty when tracking is disabled")
	}

	err = globals.Down(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Down() failed: %v", err)
	}
}

func TestTrackedLocks(t *testing.T) {
	confMap := testConfMap(t, []string{
		"TrackedLock.LockHoldTimeLimit=2s",
		"TrackedLock.LockCheckPeriod=1s",
	})

	err := globals.Up(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Up() failed: %v", err)
	}

	var mutex Mutex
	mutex.Lock()
	if 1 != len(globals.heldLocks) {
		t.Fatalf("heldLocks should contain the held Mutex")
	}
	if mutex.tracker.lockerGoId == 0 {
		t.Fatalf("tracker should have recorded the locker goroutine id")
	}
	mutex.Unlock()
	if 0 != len(globals.heldLocks) {
		t.Fatalf("heldLocks should be empty after Unlock()")
	}

	// exceed the hold time limit; the warning path must not disturb state
	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(10*time.Millisecond))
	mutex.Lock()
	time.Sleep(20 * time.Millisecond)
	mutex.Unlock()

	err = globals.Down(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Down() failed: %v", err)
	}
}

func TestRWMutexTracksWriterOnly(t *testing.T) {
	confMap := testConfMap(t, []string{
		"TrackedLock.LockHoldTimeLimit=2s",
		"TrackedLock.LockCheckPeriod=0s",
	})

	err := globals.Up(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Up() failed: %v", err)
	}

	var rwMutex RWMutex
	rwMutex.RLock()
	if 0 != len(globals.heldLocks) {
		t.Fatalf("reader holds are not tracked")
	}
	rwMutex.RUnlock()

	rwMutex.Lock()
	if 1 != len(globals.heldLocks) {
		t.Fatalf("writer hold should be tracked")
	}
	rwMutex.Unlock()

	err = globals.Down(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Down() failed: %v", err)
	}
}
