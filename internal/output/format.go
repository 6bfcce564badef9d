// Package output implements the content-addressed sink for bash tool
// results: classification of raw bytes into inline/loaded/stored entries,
// lazy URL allocation for the compaction pipeline, and the on-disk layout
// under a BashTool's outputs/ directory.
package output

import "encoding/json"

// Format is the declared or detected shape of a tool output payload.
type Format string

const (
	FormatText   Format = "text"
	FormatImage  Format = "image"
	FormatVideo  Format = "video"
	FormatBinary Format = "binary"
	FormatAuto   Format = "auto"
)

// UnmarshalJSON defaults an empty/missing value to FormatText, mirroring
// the teacher's #[serde(default)] on BashArgs.Expect.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		s = string(FormatText)
	}
	*f = Format(s)
	return nil
}

// Extension returns the file extension used when an entry of this format
// is written to disk.
func (f Format) Extension() string {
	switch f {
	case FormatVideo:
		return "mp4"
	case FormatImage, FormatBinary:
		return "bin"
	default:
		return "txt"
	}
}

// Classification thresholds, per spec §4.4/§9. Exposed as variables (not
// constants) so a host can tune them, but the classifier's ordering must
// stay monotone: Inline <= Loaded < Stored.
var (
	MaxInlineLines     = 5
	MaxLoadedLines     = 500
	PreviewLines       = 50
	MinContentForURL   = 500 // bytes; used by the compaction pipeline (C8)
	InlineOutputLimit  = 64 << 10
)
