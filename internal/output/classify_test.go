package output

import "testing"

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected Format
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, FormatImage},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatImage},
		{"gif87", []byte("GIF87a...."), FormatImage},
		{"gif89", []byte("GIF89a...."), FormatImage},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBP")...), FormatImage},
		{"mp4", append([]byte("\x00\x00\x00\x18"), []byte("ftypmp42")...), FormatVideo},
		{"plain text", []byte("hello world\n"), FormatText},
		{"binary", []byte{0x00, 0x01, 0x02, 0xFF, 0xFE}, FormatBinary},
		{"empty", []byte{}, FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFormat(tt.data)
			if got != tt.expected {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.data, got, tt.expected)
			}
		})
	}
}

func TestDetectImageMediaType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
		{"gif", []byte("GIF89a"), "image/gif"},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBP")...), "image/webp"},
		{"unknown", []byte{0x01, 0x02}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectImageMediaType(tt.data)
			if got != tt.expected {
				t.Errorf("DetectImageMediaType() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsPrintableUTF8(t *testing.T) {
	if !isPrintableUTF8([]byte("hello\nworld\t!\r\n")) {
		t.Error("expected plain text to be printable")
	}
	if isPrintableUTF8([]byte{0x00, 0x01, 0xFF}) {
		t.Error("expected control/invalid bytes to be non-printable")
	}
	if !isPrintableUTF8([]byte("unicode: 日本語")) {
		t.Error("expected valid multi-byte UTF-8 to be printable")
	}
}
