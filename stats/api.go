// Package stats provides a simple statsd client API.
//
// Statistic increments are queued to a sender goroutine which accumulates
// them into a process-lifetime map and, when configured with a UDP endpoint,
// forwards them to statsd. Increment APIs never block on the network.
package stats

type MultipleStat int

const (
	CacheRead     MultipleStat = iota // uses operations and bytes stats
	CacheWrite                        // uses operations and bytes stats
	BackendObjGet                     // uses operations and bytes stats
	BackendObjPut                     // uses operations and bytes stats
)

// Dump returns a map of all accumulated stats since process start.
//
//	Key   is a string containing the name of the stat
//	Value is the accumulation of all increments for the stat since process start
func Dump() (statMap map[string]uint64) {
	statMap = dump()
	return
}

// IncrementOperations sends an increment of .operations to statsd.
func IncrementOperations(statName *string) {
	incrementSomething(statName, 1)
}

// IncrementOperationsBy sends an increment by <incBy> of .operations to statsd.
func IncrementOperationsBy(statName *string, incBy uint64) {
	incrementSomething(statName, incBy)
}

// IncrementOperationsAndBytes sends an increment of .operations and .bytes to statsd.
func IncrementOperationsAndBytes(stat MultipleStat, bytes uint64) {
	opsStatName, bytesStatName := stat.findStatNames()
	incrementSomething(opsStatName, 1)
	incrementSomething(bytesStatName, bytes)
}

// Statistic names for the stats package.
var (
	BlockCacheReadOps        = "blockcache.read.operations"
	BlockCacheReadBytes      = "blockcache.read.bytes"
	BlockCacheReadHits       = "blockcache.read.hits"
	BlockCacheReadMisses     = "blockcache.read.misses"
	BlockCacheWriteOps       = "blockcache.write.operations"
	BlockCacheWriteBytes     = "blockcache.write.bytes"
	BlockCacheFlushOps       = "blockcache.flush.operations"
	BlockCacheWritebackPages = "blockcache.writeback.pages"
	BlockCacheEvictions      = "blockcache.evictions"
	BlockCacheGhostHits      = "blockcache.ghost.hits"
	BlockCacheDiscardOps     = "blockcache.discard.operations"
	BackendGetOps            = "backend.get.operations"
	BackendGetBytes          = "backend.get.bytes"
	BackendPutOps            = "backend.put.operations"
	BackendPutBytes          = "backend.put.bytes"
	BackendPutRetries        = "backend.put.retries"
)

func (stat MultipleStat) findStatNames() (opsStatName *string, bytesStatName *string) {
	switch stat {
	case CacheRead:
		opsStatName = &BlockCacheReadOps
		bytesStatName = &BlockCacheReadBytes
	case CacheWrite:
		opsStatName = &BlockCacheWriteOps
		bytesStatName = &BlockCacheWriteBytes
	case BackendObjGet:
		opsStatName = &BackendGetOps
		bytesStatName = &BackendGetBytes
	case BackendObjPut:
		opsStatName = &BackendPutOps
		bytesStatName = &BackendPutBytes
	}
	return
}
