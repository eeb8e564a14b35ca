package jpegxmp

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/text/encoding/unicode"
)

// EXIFKeywords returns the Windows XPKeywords entries of the EXIF block.
// A block without the tag yields no keywords and no error.
func (s *Segments) EXIFKeywords() ([]string, error) {
	if s.exif == nil {
		return nil, ErrNoEXIF
	}

	x, err := exif.Decode(bytes.NewReader(s.exif))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return nil, fmt.Errorf("decode exif: %w", err)
	}

	tag, err := x.Get(exif.XPKeywords)
	if exif.IsTagNotPresentError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read XPKeywords: %w", err)
	}

	return decodeXPKeywords(tag.Val)
}

// decodeXPKeywords turns the UTF-16LE, NUL terminated, semicolon separated
// XPKeywords value into keywords.
func decodeXPKeywords(raw []byte) ([]string, error) {
	text, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode XPKeywords: %w", err)
	}

	var keywords []string
	for _, kw := range strings.Split(strings.TrimRight(string(text), "\x00"), ";") {
		kw = strings.Join(strings.Fields(kw), " ")
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords, nil
}
