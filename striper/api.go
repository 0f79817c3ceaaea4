// Package striper provides the default file-to-object striping function for
// the block cache: image bytes are striped across fixed-size objects, page
// runs are split at object boundaries, and each object's piece of a run
// becomes one ObjectExtent.
package striper

import (
	"fmt"

	"github.com/NVIDIA/blockcache/blockcache"
)

type fixedStriperStruct struct {
	defaultObjectBytes uint64
	defaultNameFormat  string
}

// NewFixedStriper returns a Striper that stripes across objects of
// defaultObjectBytes for images whose layout does not name an object size,
// rendering object names with defaultNameFormat for images whose handle
// does not supply a format string.
func NewFixedStriper(defaultObjectBytes uint64, defaultNameFormat string) (striper blockcache.Striper) {
	striper = &fixedStriperStruct{defaultObjectBytes: defaultObjectBytes, defaultNameFormat: defaultNameFormat}
	return
}

// Default returns a Striper configured from the Striper section of the
// config handed to transitions.Up().
func Default() (striper blockcache.Striper) {
	striper = NewFixedStriper(globals.objectBytes, globals.objectNameFormat)
	return
}

// FileToPages splits [offset, offset+length) at object boundaries and emits
// one ObjectExtent per (object, contiguous page run), each page referenced
// at its intra-object offset.
func (fixedStriper *fixedStriperStruct) FileToPages(handle blockcache.ImageHandle, offset uint64, length uint64, pages []*blockcache.Page, pageLength uint64) (objectExtents map[string][]*blockcache.ObjectExtent, err error) {
	objectBytes := handle.Layout().ObjectBytes
	if 0 == objectBytes {
		objectBytes = fixedStriper.defaultObjectBytes
	}
	nameFormat := handle.FormatString()
	if "" == nameFormat {
		nameFormat = fixedStriper.defaultNameFormat
	}

	if (0 == pageLength) || (0 != objectBytes%pageLength) {
		err = fmt.Errorf("striper: object size %d is not a multiple of the page length %d", objectBytes, pageLength)
		return
	}
	if 0 != offset%pageLength {
		err = fmt.Errorf("striper: offset %d is not page aligned", offset)
		return
	}
	if uint64(len(pages))*pageLength != length {
		err = fmt.Errorf("striper: %d pages cannot cover %d bytes", len(pages), length)
		return
	}

	objectExtents = make(map[string][]*blockcache.ObjectExtent)

	pageIndex := 0
	pos := offset
	end := offset + length
	for pos < end {
		objectNumber := pos / objectBytes
		objectOffset := pos % objectBytes
		pieceLength := min64(objectBytes-objectOffset, end-pos)
		objectName := fmt.Sprintf(nameFormat, objectNumber)

		extent := &blockcache.ObjectExtent{
			ObjectName:   objectName,
			ObjectNumber: objectNumber,
			ObjectOffset: objectOffset,
			Length:       pieceLength,
			PageRefs:     make([]blockcache.PageRef, 0, pieceLength/pageLength),
		}
		for pagePos := uint64(0); pagePos < pieceLength; pagePos += pageLength {
			extent.PageRefs = append(extent.PageRefs, blockcache.PageRef{
				ObjectOffset: objectOffset + pagePos,
				Page:         pages[pageIndex],
			})
			pageIndex++
		}

		objectExtents[objectName] = append(objectExtents[objectName], extent)
		pos += pieceLength
	}

	err = nil
	return
}

func min64(a uint64, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
