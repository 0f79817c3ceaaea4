package transitions

import (
	"fmt"
	"testing"

	"github.com/NVIDIA/blockcache/conf"
)

type testCallbacksStruct struct {
	name    string
	upErr   error
	downErr error
	log     *[]string
}

func (callbacks *testCallbacksStruct) Up(confMap conf.ConfMap) (err error) {
	*callbacks.log = append(*callbacks.log, "Up:"+callbacks.name)
	err = callbacks.upErr
	return
}

func (callbacks *testCallbacksStruct) Down(confMap conf.ConfMap) (err error) {
	*callbacks.log = append(*callbacks.log, "Down:"+callbacks.name)
	err = callbacks.downErr
	return
}

func resetForTesting() {
	registrationList = make([]registrationItem, 0)
	currentlyUp = false
}

func TestUpDownOrdering(t *testing.T) {
	resetForTesting()

	log := make([]string, 0)
	Register("first", &testCallbacksStruct{name: "first", log: &log})
	Register("second", &testCallbacksStruct{name: "second", log: &log})

	confMap := conf.MakeConfMap()

	err := Up(confMap)
	if nil != err {
		t.Fatalf("Up() failed: %v", err)
	}
	err = Down(confMap)
	if nil != err {
		t.Fatalf("Down() failed: %v", err)
	}

	expected := []string{"Up:first", "Up:second", "Down:second", "Down:first"}
	if len(expected) != len(log) {
		t.Fatalf("callback log is %v", log)
	}
	for logIndex := range expected {
		if expected[logIndex] != log[logIndex] {
			t.Fatalf("callback log is %v, expected %v", log, expected)
		}
	}
}

func TestUpFailureUnwinds(t *testing.T) {
	resetForTesting()

	log := make([]string, 0)
	Register("first", &testCallbacksStruct{name: "first", log: &log})
	Register("second", &testCallbacksStruct{name: "second", upErr: fmt.Errorf("injected"), log: &log})
	Register("third", &testCallbacksStruct{name: "third", log: &log})

	confMap := conf.MakeConfMap()

	err := Up(confMap)
	if nil == err {
		t.Fatalf("Up() should have failed")
	}
	if currentlyUp {
		t.Fatalf("a failed Up() must not leave the system up")
	}

	expected := []string{"Up:first", "Up:second", "Down:first"}
	if len(expected) != len(log) {
		t.Fatalf("callback log is %v", log)
	}
	for logIndex := range expected {
		if expected[logIndex] != log[logIndex] {
			t.Fatalf("callback log is %v, expected %v", log, expected)
		}
	}

	// Down() without a successful Up() is rejected
	err = Down(confMap)
	if nil == err {
		t.Fatalf("Down() while not up should fail")
	}
}

func TestDoubleUpRejected(t *testing.T) {
	resetForTesting()

	log := make([]string, 0)
	Register("only", &testCallbacksStruct{name: "only", log: &log})

	confMap := conf.MakeConfMap()

	err := Up(confMap)
	if nil != err {
		t.Fatalf("Up() failed: %v", err)
	}
	err = Up(confMap)
	if nil == err {
		t.Fatalf("second Up() should fail")
	}
	err = Down(confMap)
	if nil != err {
		t.Fatalf("Down() failed: %v", err)
	}
}
