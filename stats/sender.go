package stats

import (
	"fmt"
	"time"
)

func incrementSomething(statName *string, incBy uint64) {
	if 0 == incBy {
		return
	}
	// Never block the caller; an overfull buffer drops the increment.
	select {
	case globals.statChan <- statIncrement{statName: statName, incBy: incBy}:
	default:
	}
}

func dump() (statMap map[string]uint64) {
	globals.Lock()
	statMap = make(map[string]uint64, len(globals.statMap))
	for statName, statValue := range globals.statMap {
		statMap[statName] = statValue
	}
	globals.Unlock()
	return
}

// sender accumulates increments into the dump map and, when a UDP connection
// is configured, batches statsd lines for up to maxLatency before writing.
func sender() {
	var (
		flushTimer *time.Timer
		pending    = make(map[string]uint64)
	)

	flushTimer = time.NewTimer(globals.maxLatency)
	defer flushTimer.Stop()

	flushPending := func() {
		if nil == globals.udpConn || 0 == len(pending) {
			return
		}
		buf := make([]byte, 0, 64*len(pending))
		for statName, incBy := range pending {
			buf = append(buf, fmt.Sprintf("%s:%d|c\n", statName, incBy)...)
			delete(pending, statName)
		}
		_, _ = globals.udpConn.Write(buf)
	}

	for {
		select {
		case increment, ok := <-globals.statChan:
			if !ok {
				flushPending()
				globals.doneChan <- struct{}{}
				return
			}

			globals.Lock()
			globals.statMap[*increment.statName] += increment.incBy
			globals.Unlock()

			pending[*increment.statName] += increment.incBy

		case <-flushTimer.C:
			flushPending()
			flushTimer.Reset(globals.maxLatency)
		}
	}
}
