// Package jpegxmp locates metadata packets embedded in JPEG APP1 segments.
package jpegxmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

const (
	markerAPP1 = 0xE1

	xmpIdentifier      = "http://ns.adobe.com/xap/1.0/\x00"
	extendedIdentifier = "http://ns.adobe.com/xmp/extension/\x00"
	exifIdentifier     = "Exif\x00\x00"

	// GUID (32) + full length (4) + offset (4)
	extendedHeaderLen = 40
)

var (
	ErrNotJPEG            = errors.New("not a JPEG file")
	ErrNoXMP              = errors.New("no XMP packet in JPEG")
	ErrNoExtendedXMP      = errors.New("no extended XMP in JPEG")
	ErrIncompleteExtended = errors.New("extended XMP is incomplete")
	ErrNoEXIF             = errors.New("no EXIF block in JPEG")
)

var jpegExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".jpe":  true,
}

// IsJPEG reports whether path has a JPEG file extension.
func IsJPEG(path string) bool {
	return jpegExtensions[strings.ToLower(filepath.Ext(path))]
}

// Segments holds the APP1 payloads of one JPEG file, identifiers stripped.
type Segments struct {
	xmp      []byte
	exif     []byte
	extGUID  string
	extTotal uint32
	extParts map[uint32][]byte
}

// Scan walks the segment list of a JPEG image and keeps the APP1 payloads
// carrying XMP, extended XMP and EXIF.
func Scan(data []byte) (*Segments, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, ErrNotJPEG
	}

	intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	sl, ok := intfc.(*jpegstructure.SegmentList)
	if err != nil {
		// The parser hands back whatever it read before the failure; a
		// truncated image still has its APP segments up front.
		if !ok || sl == nil || len(sl.Segments()) == 0 {
			return nil, fmt.Errorf("parse jpeg: %w", err)
		}
	} else if !ok {
		return nil, fmt.Errorf("parse jpeg: unexpected media context %T", intfc)
	}

	s := &Segments{}
	for _, seg := range sl.Segments() {
		if seg.MarkerId != markerAPP1 {
			continue
		}
		s.add(seg.Data)
	}
	return s, nil
}

func (s *Segments) add(payload []byte) {
	switch {
	case bytes.HasPrefix(payload, []byte(xmpIdentifier)):
		if s.xmp == nil {
			s.xmp = trimPacket(payload[len(xmpIdentifier):])
		}

	case bytes.HasPrefix(payload, []byte(extendedIdentifier)):
		body := payload[len(extendedIdentifier):]
		if len(body) < extendedHeaderLen {
			return
		}
		guid := string(body[:32])
		total := binary.BigEndian.Uint32(body[32:36])
		offset := binary.BigEndian.Uint32(body[36:40])

		if s.extParts == nil {
			s.extGUID = guid
			s.extTotal = total
			s.extParts = make(map[uint32][]byte)
		}
		// Only one extension per file is meaningful; it is named by the
		// main packet's xmpNote:HasExtendedXMP and the first chunk wins.
		if guid != s.extGUID || total != s.extTotal {
			return
		}
		s.extParts[offset] = body[extendedHeaderLen:]

	case bytes.HasPrefix(payload, []byte(exifIdentifier)):
		if s.exif == nil {
			s.exif = payload
		}
	}
}

// XMP returns the main XMP packet.
func (s *Segments) XMP() ([]byte, error) {
	if s.xmp == nil {
		return nil, ErrNoXMP
	}
	return s.xmp, nil
}

// ExtendedXMP reassembles the extended XMP chunks in offset order. The chunks
// must tile the declared length exactly, with no gaps or overlaps.
func (s *Segments) ExtendedXMP() ([]byte, error) {
	if len(s.extParts) == 0 {
		return nil, ErrNoExtendedXMP
	}

	offsets := make([]uint32, 0, len(s.extParts))
	for offset := range s.extParts {
		offsets = append(offsets, offset)
	}
	slices.Sort(offsets)

	// The declared length comes from the file; check it against the bytes
	// actually present before allocating.
	var next uint64
	for _, offset := range offsets {
		if uint64(offset) != next {
			return nil, fmt.Errorf("%w: chunk at %d, expected %d", ErrIncompleteExtended, offset, next)
		}
		next += uint64(len(s.extParts[offset]))
	}
	if next != uint64(s.extTotal) {
		return nil, fmt.Errorf("%w: have %d of %d bytes", ErrIncompleteExtended, next, s.extTotal)
	}

	buf := make([]byte, 0, next)
	for _, offset := range offsets {
		buf = append(buf, s.extParts[offset]...)
	}
	return buf, nil
}

// Extract returns the main XMP packet of a JPEG image.
func Extract(data []byte) ([]byte, error) {
	s, err := Scan(data)
	if err != nil {
		return nil, err
	}
	return s.XMP()
}

// trimPacket drops the NUL and whitespace padding writers leave around a packet.
func trimPacket(b []byte) []byte {
	return bytes.Trim(b, "\x00 \t\r\n")
}
