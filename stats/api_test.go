package stats

import (
	"testing"
	"time"

	"github.com/NVIDIA/blockcache/conf"
)

func TestAPI(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Stats.IPAddr=localhost",
		"Stats.UDPPort=52184",
		"Stats.BufferLength=100",
		"Stats.MaxLatency=100ms",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	err = globals.Up(confMap)
	if nil != err {
		t.Fatalf("stats.Up() failed: %v", err)
	}

	IncrementOperations(&BlockCacheReadOps)
	IncrementOperationsBy(&BlockCacheWritebackPages, 4)
	IncrementOperationsAndBytes(CacheWrite, 8192)

	// increments drain through the sender goroutine
	deadline := time.Now().Add(2 * time.Second)
	for {
		statMap := Dump()
		if (statMap[BlockCacheReadOps] == 1) &&
			(statMap[BlockCacheWritebackPages] == 4) &&
			(statMap[BlockCacheWriteOps] == 1) &&
			(statMap[BlockCacheWriteBytes] == 8192) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Dump() never observed the increments: %v", statMap)
		}
		time.Sleep(time.Millisecond)
	}

	err = globals.Down(confMap)
	if nil != err {
		t.Fatalf("stats.Down() failed: %v", err)
	}
}

func TestNoForwarding(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	err = globals.Up(confMap)
	if nil != err {
		t.Fatalf("stats.Up() without Stats section failed: %v", err)
	}
	if nil != globals.udpConn {
		t.Fatalf("udpConn should be nil without Stats.UDPPort")
	}

	IncrementOperations(&BlockCacheFlushOps)

	deadline := time.Now().Add(2 * time.Second)
	for Dump()[BlockCacheFlushOps] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Dump() never observed the increment")
		}
		time.Sleep(time.Millisecond)
	}

	err = globals.Down(confMap)
	if nil != err {
		t.Fatalf("stats.Down() failed: %v", err)
	}
}
