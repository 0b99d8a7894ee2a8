package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Byte orders a ROM image may be stored in, identified by its first word.
const (
	magicBigEndian  uint32 = 0x80371240 // .z64
	magicByteSwap   uint32 = 0x37804012 // .v64
	magicLittleWord uint32 = 0x40123780 // .n64

	headerSize  = 0x40
	titleOffset = 0x20
	titleLength = 20
)

// Image is a validated ROM image.
type Image struct {
	Title string
	Size  int
}

// ParseImage checks the image header and extracts its internal title.
func ParseImage(data []byte) (Image, error) {
	if len(data) < headerSize {
		return Image{}, fmt.Errorf("image too short: %d bytes", len(data))
	}

	header := make([]byte, headerSize)
	copy(header, data[:headerSize])

	switch magic := binary.BigEndian.Uint32(header); magic {
	case magicBigEndian:
	case magicByteSwap:
		for i := 0; i+1 < len(header); i += 2 {
			header[i], header[i+1] = header[i+1], header[i]
		}
	case magicLittleWord:
		for i := 0; i+3 < len(header); i += 4 {
			header[i], header[i+1], header[i+2], header[i+3] = header[i+3], header[i+2], header[i+1], header[i]
		}
	default:
		return Image{}, fmt.Errorf("unrecognised image magic %#08x", magic)
	}

	title := header[titleOffset : titleOffset+titleLength]
	title = bytes.TrimRight(title, "\x00 ")
	return Image{Title: strings.TrimSpace(string(title)), Size: len(data)}, nil
}

// BlankImage builds a minimal big-endian image with the given title. It is
// enough for the simulated engine, which never executes image contents.
func BlankImage(title string) []byte {
	data := make([]byte, 0x1000)
	binary.BigEndian.PutUint32(data, magicBigEndian)
	t := []byte(title)
	if len(t) > titleLength {
		t = t[:titleLength]
	}
	copy(data[titleOffset:], t)
	for i := titleOffset + len(t); i < titleOffset+titleLength; i++ {
		data[i] = ' '
	}
	return data
}
