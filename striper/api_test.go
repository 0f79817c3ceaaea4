package striper

import (
	"testing"

	"github.com/NVIDIA/blockcache/blockcache"
)

type testImageStruct struct {
	formatString string
	objectBytes  uint64
}

func (testImage *testImageStruct) Layout() (layout blockcache.ImageLayout) {
	layout = blockcache.ImageLayout{ObjectBytes: testImage.objectBytes}
	return
}

func (testImage *testImageStruct) FormatString() (formatString string) {
	formatString = testImage.formatString
	return
}

func (testImage *testImageStruct) SnapContext() (snapc blockcache.SnapContext) {
	snapc = blockcache.SnapContext{}
	return
}

func makePages(numPages int) (pages []*blockcache.Page) {
	pages = make([]*blockcache.Page, numPages)
	for pageIndex := range pages {
		pages[pageIndex] = &blockcache.Page{}
	}
	return
}

func TestSingleObjectRun(t *testing.T) {
	fixedStriper := NewFixedStriper(65536, "obj.%016x")
	testImage := &testImageStruct{formatString: "imgA.%016x", objectBytes: 65536}

	pages := makePages(3)
	objectExtents, err := fixedStriper.FileToPages(testImage, 0, 3*4096, pages, 4096)
	if nil != err {
		t.Fatalf("FileToPages() failed: %v", err)
	}

	if 1 != len(objectExtents) {
		t.Fatalf("expected 1 object, got %d", len(objectExtents))
	}
	extents, ok := objectExtents["imgA.0000000000000000"]
	if !ok {
		t.Fatalf("unexpected object names: %v", objectExtents)
	}
	if 1 != len(extents) {
		t.Fatalf("expected 1 extent, got %d", len(extents))
	}

	extent := extents[0]
	if (0 != extent.ObjectNumber) || (0 != extent.ObjectOffset) || (3*4096 != extent.Length) {
		t.Fatalf("extent is %+v", extent)
	}
	if 3 != len(extent.PageRefs) {
		t.Fatalf("expected 3 page refs, got %d", len(extent.PageRefs))
	}
	for pageIndex, pageRef := range extent.PageRefs {
		if uint64(pageIndex)*4096 != pageRef.ObjectOffset {
			t.Fatalf("page ref %d at object offset %d", pageIndex, pageRef.ObjectOffset)
		}
		if pageRef.Page != pages[pageIndex] {
			t.Fatalf("page ref %d references the wrong page", pageIndex)
		}
	}
}

func TestObjectBoundarySplit(t *testing.T) {
	fixedStriper := NewFixedStriper(8192, "obj.%016x")
	testImage := &testImageStruct{formatString: "imgA.%016x", objectBytes: 8192}

	// 4 pages spanning objects 0, 1, and 2
	pages := makePages(4)
	objectExtents, err := fixedStriper.FileToPages(testImage, 4096, 4*4096, pages, 4096)
	if nil != err {
		t.Fatalf("FileToPages() failed: %v", err)
	}

	if 3 != len(objectExtents) {
		t.Fatalf("expected 3 objects, got %d: %v", len(objectExtents), objectExtents)
	}

	first := objectExtents["imgA.0000000000000000"][0]
	if (4096 != first.ObjectOffset) || (4096 != first.Length) || (1 != len(first.PageRefs)) {
		t.Fatalf("first extent is %+v", first)
	}
	second := objectExtents["imgA.0000000000000001"][0]
	if (0 != second.ObjectOffset) || (8192 != second.Length) || (2 != len(second.PageRefs)) {
		t.Fatalf("second extent is %+v", second)
	}
	third := objectExtents["imgA.0000000000000002"][0]
	if (0 != third.ObjectOffset) || (4096 != third.Length) || (1 != len(third.PageRefs)) {
		t.Fatalf("third extent is %+v", third)
	}

	// every page is referenced exactly once
	seen := make(map[*blockcache.Page]int)
	for _, extents := range objectExtents {
		for _, extent := range extents {
			for _, pageRef := range extent.PageRefs {
				seen[pageRef.Page]++
			}
		}
	}
	for pageIndex, page := range pages {
		if 1 != seen[page] {
			t.Fatalf("page %d referenced %d times", pageIndex, seen[page])
		}
	}
}

func TestLayoutDefaults(t *testing.T) {
	fixedStriper := NewFixedStriper(16384, "fallback.%016x")

	// an image with no layout or format string uses the striper defaults
	testImage := &testImageStruct{formatString: "", objectBytes: 0}
	pages := makePages(1)
	objectExtents, err := fixedStriper.FileToPages(testImage, 16384, 4096, pages, 4096)
	if nil != err {
		t.Fatalf("FileToPages() failed: %v", err)
	}
	if _, ok := objectExtents["fallback.0000000000000001"]; !ok {
		t.Fatalf("expected fallback object name, got %v", objectExtents)
	}
}

func TestValidation(t *testing.T) {
	fixedStriper := NewFixedStriper(65536, "obj.%016x")
	testImage := &testImageStruct{formatString: "imgA.%016x", objectBytes: 6000}

	pages := makePages(1)

	// object size not a multiple of the page length
	_, err := fixedStriper.FileToPages(testImage, 0, 4096, pages, 4096)
	if nil == err {
		t.Fatalf("unaligned object size should be rejected")
	}

	testImage.objectBytes = 65536

	// misaligned offset
	_, err = fixedStriper.FileToPages(testImage, 100, 4096, pages, 4096)
	if nil == err {
		t.Fatalf("unaligned offset should be rejected")
	}

	// page count / length mismatch
	_, err = fixedStriper.FileToPages(testImage, 0, 8192, pages, 4096)
	if nil == err {
		t.Fatalf("page count mismatch should be rejected")
	}
}
