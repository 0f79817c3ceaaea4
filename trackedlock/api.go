// Package trackedlock provides implementations of sync.Mutex and sync.RWMutex
// with additional functionality in the form of lock hold tracking.
//
// If lock tracking is enabled, the package checks the lock hold time. When a
// lock is unlocked, if it was held longer than "LockHoldTimeLimit" then a
// warning is logged along with the stack trace of the Lock() of the lock. In
// addition, a daemon, the trackedlock watcher, periodically checks to see if
// any lock has been held too long and logs the stack trace of the goroutine
// that acquired it.
//
// The config variable "TrackedLock.LockHoldTimeLimit" is the hold time that
// triggers warning messages being logged. If it is 0 then locks are not
// tracked and the overhead of this package is minimal.
//
// The config variable "TrackedLock.LockCheckPeriod" is how often the daemon
// checks tracked locks. If it is 0 then no daemon is created and lock hold
// time is checked only when the lock is unlocked.
//
// trackedlock locks can be locked before this package is initialized, but
// they will not be tracked until the first time they are locked after
// initialization.
package trackedlock

import (
	"sync"
)

// The Mutex type that we export, which wraps sync.Mutex to add tracking of
// lock hold time and the stack trace of the locker.
type Mutex struct {
	wrappedMutex sync.Mutex // the actual Mutex
	tracker      mutexTrack // tracking information for the Mutex
}

// The RWMutex type that we export, which wraps sync.RWMutex to add tracking
// of lock hold time and the stack trace of the writer. Reader holds are not
// tracked.
type RWMutex struct {
	wrappedRWMutex sync.RWMutex // the actual RWMutex
	tracker        mutexTrack   // track holds in exclusive (writer) mode
}

//
// Tracked Mutex API
//

func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *Mutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedMutex.Unlock()
}

//
// Tracked RWMutex API
//

func (m *RWMutex) Lock() {
	m.wrappedRWMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *RWMutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedRWMutex.Unlock()
}

func (m *RWMutex) RLock() {
	m.wrappedRWMutex.RLock()
}

func (m *RWMutex) RUnlock() {
	m.wrappedRWMutex.RUnlock()
}
