// Package transitions orchestrates the lifecycle of the other packages.
//
// Each package registers a Callbacks implementation from its init() func.
// transitions.Up() invokes the Up() callbacks in registration order;
// transitions.Down() invokes the Down() callbacks in reverse order. A failure
// during Up() triggers Down() of the already-up packages before returning.
package transitions

import (
	"fmt"

	"github.com/NVIDIA/blockcache/conf"
)

// Callbacks is the interface implemented by each package's lifecycle handler.
type Callbacks interface {
	Up(confMap conf.ConfMap) (err error)
	Down(confMap conf.ConfMap) (err error)
}

type registrationItem struct {
	packageName string
	callbacks   Callbacks
}

var registrationList = make([]registrationItem, 0)
var currentlyUp = false

// Register adds a package's Callbacks to the ordered registration list.
// Register must only be called from init() funcs, before Up().
func Register(packageName string, callbacks Callbacks) {
	if currentlyUp {
		panic(fmt.Sprintf("transitions.Register(\"%s\") called while up", packageName))
	}
	registrationList = append(registrationList, registrationItem{packageName: packageName, callbacks: callbacks})
}

// Up invokes each registered package's Up() in registration order.
func Up(confMap conf.ConfMap) (err error) {
	if currentlyUp {
		err = fmt.Errorf("transitions.Up() called while already up")
		return
	}

	for registrationIndex, item := range registrationList {
		err = item.callbacks.Up(confMap)
		if nil != err {
			err = fmt.Errorf("transitions.Up() failed in package %s: %v", item.packageName, err)
			for unwindIndex := registrationIndex - 1; unwindIndex >= 0; unwindIndex-- {
				_ = registrationList[unwindIndex].callbacks.Down(confMap)
			}
			return
		}
	}

	currentlyUp = true
	err = nil
	return
}

// Down invokes each registered package's Down() in reverse registration
// order. The first failure is returned but teardown continues.
func Down(confMap conf.ConfMap) (err error) {
	if !currentlyUp {
		err = fmt.Errorf("transitions.Down() called while not up")
		return
	}

	err = nil
	for registrationIndex := len(registrationList) - 1; registrationIndex >= 0; registrationIndex-- {
		item := registrationList[registrationIndex]
		downErr := item.callbacks.Down(confMap)
		if (nil != downErr) && (nil == err) {
			err = fmt.Errorf("transitions.Down() failed in package %s: %v", item.packageName, downErr)
		}
	}

	currentlyUp = false
	return
}
