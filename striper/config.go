package striper

import (
	"fmt"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/transitions"
)

type globalsStruct struct {
	objectBytes      uint64
	objectNameFormat string
}

var globals globalsStruct

func init() {
	transitions.Register("striper", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	globals.objectBytes, err = confMap.FetchOptionValueUint64("Striper", "ObjectBytes")
	if nil != err {
		globals.objectBytes = 4 * 1024 * 1024
	}
	globals.objectNameFormat, err = confMap.FetchOptionValueString("Striper", "ObjectNameFormat")
	if nil != err {
		globals.objectNameFormat = "obj.%016x"
	}

	if 0 == globals.objectBytes {
		err = fmt.Errorf("Striper.ObjectBytes must be a non-zero uint64")
		return
	}

	err = nil
	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	err = nil
	return
}
