package output

import (
	"bytes"
	"unicode/utf8"
)

// DetectFormat inspects raw bytes and returns the best-guess Format,
// following the magic-byte table in spec §4.4.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}): // PNG
		return FormatImage
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}): // JPEG
		return FormatImage
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatImage
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) > 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatImage
	case len(data) > 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatVideo
	}

	if isPrintableUTF8(data) {
		return FormatText
	}
	return FormatBinary
}

// DetectImageMediaType returns the MIME type for image-classified bytes.
func DetectImageMediaType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) > 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// isPrintableUTF8 reports whether data is valid UTF-8 and every rune is
// printable or one of \n \r \t.
func isPrintableUTF8(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
