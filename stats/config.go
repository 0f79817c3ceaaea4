package stats

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/transitions"
)

type statIncrement struct {
	statName *string
	incBy    uint64
}

type globalsStruct struct {
	sync.Mutex // protects statMap

	ipAddr       string
	udpPort      uint16
	bufferLength uint16
	maxLatency   time.Duration

	udpConn *net.UDPConn // nil if forwarding is disabled

	statChan chan statIncrement
	doneChan chan struct{}

	statMap map[string]uint64
}

var globals globalsStruct

func init() {
	transitions.Register("stats", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	globals.statMap = make(map[string]uint64)

	// Forwarding is optional; with no UDPPort the sender only accumulates.
	globals.udpPort, err = confMap.FetchOptionValueUint16("Stats", "UDPPort")
	if nil == err {
		globals.ipAddr, err = confMap.FetchOptionValueString("Stats", "IPAddr")
		if nil != err {
			globals.ipAddr = "127.0.0.1"
		}

		var udpAddr *net.UDPAddr
		udpAddr, err = net.ResolveUDPAddr("udp", globals.ipAddr+":"+strconv.Itoa(int(globals.udpPort)))
		if nil != err {
			err = fmt.Errorf("stats: cannot resolve %s:%d: %v", globals.ipAddr, globals.udpPort, err)
			return
		}
		globals.udpConn, err = net.DialUDP("udp", nil, udpAddr)
		if nil != err {
			err = fmt.Errorf("stats: cannot dial %v: %v", udpAddr, err)
			return
		}
	}

	globals.bufferLength, err = confMap.FetchOptionValueUint16("Stats", "BufferLength")
	if nil != err {
		globals.bufferLength = 1000
	}
	globals.maxLatency, err = confMap.FetchOptionValueDuration("Stats", "MaxLatency")
	if nil != err {
		globals.maxLatency = time.Second
	}
	err = nil

	globals.statChan = make(chan statIncrement, globals.bufferLength)
	globals.doneChan = make(chan struct{})

	go sender()

	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	close(globals.statChan)
	<-globals.doneChan

	if nil != globals.udpConn {
		err = globals.udpConn.Close()
		globals.udpConn = nil
	}

	return
}
