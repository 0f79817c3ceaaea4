package blockcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/trackedlock"
	"github.com/NVIDIA/blockcache/transitions"
)

type flushCommitStruct struct {
	pending    uint64
	completion Completion // set once the id is closed by UserFlush()
}

type statsGroupStruct struct {
	ReadUsec           bucketstats.BucketLog2Round // bucketized by time
	ReadBytes          bucketstats.BucketLog2Round // bucketized by byte count
	WriteUsec          bucketstats.BucketLog2Round // bucketized by time
	WriteBytes         bucketstats.BucketLog2Round // bucketized by byte count
	ReadHitPages       bucketstats.Total
	ReadMissPages      bucketstats.Total
	GhostHits          bucketstats.Total
	Evictions          bucketstats.Total
	WritebackExtents   bucketstats.Average // pages per coalesced writeback
	WritebackRetries   bucketstats.Total
	CapacityStalls     bucketstats.Total
	ReadConflictStalls bucketstats.Total
}

type globalsStruct struct {
	// immutable after Up()
	pageLength     uint64
	totalHalfPages uint32
	regionMaxPages uint32

	objectBackend ObjectBackend
	striper       Striper

	// image-id table; slice mutations additionally hold treeLock so that
	// holders of either lock may index the slices
	ictxMgmtLock     trackedlock.RWMutex
	imageIDs         map[ImageHandle]uint64
	registeredImages []ImageHandle // dense; index 0 unused
	registeredTrees  []*pageTreeStruct
	ghostTrees       []*pageTreeStruct

	// page pool; treeCond carries capacity-available and
	// conflicting-in-flight-page-finished signals
	treeLock        trackedlock.Mutex
	treeCond        *sync.Cond
	remainDataPages uint32
	regions         []region
	allPages        []Page
	freePagesHead   *Page
	freeFramesHead  *Page
	numFreeFrames   uint64
	readPageWait    bool
	writePageWait   bool

	inflightPages int64 // atomic; pages being filled or written back

	carState carStateStruct

	dirtyPageLock  trackedlock.Mutex
	dirtyPageState dirtyPageStateStruct

	flushLock        trackedlock.Mutex
	flusherStop      bool // under flushLock
	flusherWakeChan  chan struct{}
	flusherDoneChan  chan struct{}
	flushID          uint64
	flushRetryWrites []*bcWriteStruct
	flushCommits     map[uint64]*flushCommitStruct
	waitWriteback    []Completion

	up bool

	stats statsGroupStruct
}

var globals globalsStruct

func init() {
	transitions.Register("blockcache", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	var (
		cacheBytes       uint64
		maxDirtyAge      time.Duration
		maxDirtyBytes    uint64
		pageBytes        uint64
		regionPages      uint32
		targetDirtyBytes uint64
	)

	if globals.up {
		err = fmt.Errorf("blockcache.Up() called while already up")
		return
	}

	cacheBytes, err = confMap.FetchOptionValueUint64("BlockCache", "CacheBytes")
	if nil != err {
		return
	}
	pageBytes, err = confMap.FetchOptionValueUint64("BlockCache", "PageBytes")
	if nil != err {
		return
	}
	regionPages, err = confMap.FetchOptionValueUint32("BlockCache", "RegionPages")
	if nil != err {
		return
	}
	targetDirtyBytes, err = confMap.FetchOptionValueUint64("BlockCache", "TargetDirtyBytes")
	if nil != err {
		return
	}
	maxDirtyBytes, err = confMap.FetchOptionValueUint64("BlockCache", "MaxDirtyBytes")
	if nil != err {
		return
	}
	maxDirtyAge, err = confMap.FetchOptionValueDuration("BlockCache", "MaxDirtyAge")
	if nil != err {
		maxDirtyAge = 0
		err = nil
	}

	if (0 == pageBytes) || (0 != cacheBytes%pageBytes) || (cacheBytes/pageBytes < 2) {
		err = fmt.Errorf("BlockCache.CacheBytes (%d) must be at least 2 pages and a multiple of BlockCache.PageBytes (%d)",
			cacheBytes, pageBytes)
		return
	}
	if 0 == regionPages {
		err = fmt.Errorf("BlockCache.RegionPages must be a non-zero uint32")
		return
	}

	globals.pageLength = pageBytes
	globals.totalHalfPages = uint32(cacheBytes / pageBytes)
	globals.regionMaxPages = regionPages
	globals.remainDataPages = globals.totalHalfPages

	globals.carState.arcLRULimit = globals.totalHalfPages / 2
	globals.carState.dataPages = globals.totalHalfPages

	globals.dirtyPageState.passThrough = true
	globals.dirtyPageState.targetPages = uint32(targetDirtyBytes / pageBytes)
	globals.dirtyPageState.maxDirtyPages = uint32(maxDirtyBytes / pageBytes)
	globals.dirtyPageState.maxDirtyAge = maxDirtyAge

	// every data-holding page may have one matching ghost
	globals.allPages = make([]Page, 2*globals.totalHalfPages)
	globals.freePagesHead = nil
	globals.freeFramesHead = nil
	globals.numFreeFrames = 0
	for pageIndex := range globals.allPages {
		page := &globals.allPages[pageIndex]
		page.arcIdx = arcCount
		page.location = locFreeDesc
		page.next = globals.freePagesHead
		globals.freePagesHead = page
	}

	globals.regions = make([]region, 0)
	globals.treeCond = sync.NewCond(&globals.treeLock)

	globals.imageIDs = make(map[ImageHandle]uint64)
	globals.registeredImages = make([]ImageHandle, 1)
	globals.registeredTrees = make([]*pageTreeStruct, 1)
	globals.ghostTrees = make([]*pageTreeStruct, 1)

	globals.flushID = 0
	globals.flushCommits = make(map[uint64]*flushCommitStruct)
	globals.flushCommits[globals.flushID] = &flushCommitStruct{}
	globals.flushRetryWrites = make([]*bcWriteStruct, 0)
	globals.waitWriteback = make([]Completion, 0)

	bucketstats.Register("blockcache", "", &globals.stats)

	globals.flusherStop = false
	globals.flusherWakeChan = make(chan struct{}, 1)
	globals.flusherDoneChan = make(chan struct{})
	go flusher()

	globals.up = true

	logger.Infof("blockcache: up; cache %s in %s pages (%d data pages, %d page descriptors), target dirty %s, max dirty %s",
		humanize.IBytes(cacheBytes), humanize.IBytes(pageBytes), globals.totalHalfPages,
		2*globals.totalHalfPages, humanize.IBytes(targetDirtyBytes), humanize.IBytes(maxDirtyBytes))

	err = nil
	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	if !globals.up {
		err = fmt.Errorf("blockcache.Down() called while not up")
		return
	}

	// stop the flusher; it drains retry writes (completing them with a
	// cancellation status) and waits out in-flight pages before exiting
	globals.flushLock.Lock()
	globals.flusherStop = true
	globals.flushLock.Unlock()
	signalFlusher()
	<-globals.flusherDoneChan

	bucketstats.UnRegister("blockcache", "")

	globals.imageIDs = nil
	globals.registeredImages = nil
	globals.registeredTrees = nil
	globals.ghostTrees = nil
	globals.allPages = nil
	globals.freePagesHead = nil
	globals.freeFramesHead = nil
	globals.regions = nil
	globals.carState = carStateStruct{}
	globals.dirtyPageState = dirtyPageStateStruct{}
	globals.flushCommits = nil
	globals.flushRetryWrites = nil
	globals.waitWriteback = nil
	globals.objectBackend = nil
	globals.striper = nil
	globals.inflightPages = 0

	globals.up = false

	logger.Infof("blockcache: down")

	err = nil
	return
}
