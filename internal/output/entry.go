package output

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Content is the payload carried by an inline or loaded OutputEntry.
// It is a tagged union at the Go level but flattens into the same
// untagged JSON shape as the teacher's Rust Content enum: a text entry
// serializes as {"type":"text","text":...,"truncated":...} and an image
// entry as {"type":"image","data":...,"media_type":...}.
type Content struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Truncated bool   `json:"truncated"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// contentText/contentImage are the two variant-specific JSON shapes; each
// carries only the fields the teacher's Rust enum actually serializes for
// that variant (an image has no "truncated" field, a text has no "data").
type contentText struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

type contentImage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
}

// MarshalJSON emits only the fields relevant to the Content's variant.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Type == "image" {
		return json.Marshal(contentImage{Type: "image", Data: c.Data, MediaType: c.MediaType})
	}
	return json.Marshal(contentText{Type: "text", Text: c.Text, Truncated: c.Truncated})
}

// UnmarshalJSON reconstructs a Content from either variant shape based on
// the "type" discriminant.
func (c *Content) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type == "image" {
		var img contentImage
		if err := json.Unmarshal(data, &img); err != nil {
			return err
		}
		*c = Content{Type: "image", Data: img.Data, MediaType: img.MediaType}
		return nil
	}
	var txt contentText
	if err := json.Unmarshal(data, &txt); err != nil {
		return err
	}
	*c = Content{Type: "text", Text: txt.Text, Truncated: txt.Truncated}
	return nil
}

// NewTextContent builds a text Content value.
func NewTextContent(text string, truncated bool) Content {
	return Content{Type: "text", Text: text, Truncated: truncated}
}

// NewImageContent builds an image Content value from raw bytes.
func NewImageContent(data []byte, mediaType string) Content {
	return Content{Type: "image", Data: base64Encode(data), MediaType: mediaType}
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// String renders a Content value the way a terminal transcript would show
// it: text verbatim (with a truncation notice), images as a placeholder tag.
func (c Content) String() string {
	switch c.Type {
	case "image":
		return fmt.Sprintf("[image: %s]", c.MediaType)
	default:
		if c.Truncated {
			return c.Text + "\n...truncated"
		}
		return c.Text
	}
}

// entryKind discriminates the four OutputEntry shapes without being part
// of the public JSON surface: the JSON emission is untagged, relying on
// which of content/url is present.
type entryKind int

const (
	entryEmpty entryKind = iota
	entryInline
	entryLoaded
	entryStored
)

// OutputEntry is the result of classifying a tool's raw output, per
// spec §4.4. Exactly one of its four shapes is active at a time:
//
//	Empty:  no output at all.
//	Inline: small enough to ship the content directly, never written to disk.
//	Loaded: content held in memory plus a raw on-disk copy, not yet offloaded.
//	Stored: offloaded to disk; content/summary are optional previews.
type OutputEntry struct {
	kind    entryKind
	content Content
	raw     []byte
	format  Format
	url     string
	summary string
}

// EmptyEntry returns the Empty-shaped OutputEntry.
func EmptyEntry() OutputEntry { return OutputEntry{kind: entryEmpty} }

// InlineEntry returns an Inline-shaped OutputEntry wrapping content.
func InlineEntry(content Content) OutputEntry {
	return OutputEntry{kind: entryInline, content: content}
}

// LoadedEntry returns a Loaded-shaped OutputEntry: content kept in memory,
// raw bytes mirrored on disk, format recorded for later offload.
func LoadedEntry(content Content, raw []byte, format Format) OutputEntry {
	return OutputEntry{kind: entryLoaded, content: content, raw: raw, format: format}
}

// StoredEntry returns a Stored-shaped OutputEntry: offloaded to url, with
// an optional content preview and/or textual summary.
func StoredEntry(url string, content *Content, summary string) OutputEntry {
	e := OutputEntry{kind: entryStored, url: url, summary: summary}
	if content != nil {
		e.content = *content
	}
	return e
}

func (e OutputEntry) IsEmpty() bool  { return e.kind == entryEmpty }
func (e OutputEntry) IsInline() bool { return e.kind == entryInline }
func (e OutputEntry) IsLoaded() bool { return e.kind == entryLoaded }
func (e OutputEntry) IsStored() bool { return e.kind == entryStored }

// Content returns the entry's content preview, if any.
func (e OutputEntry) Content() (Content, bool) {
	switch e.kind {
	case entryInline, entryLoaded:
		return e.content, true
	case entryStored:
		if e.content.Type != "" {
			return e.content, true
		}
	}
	return Content{}, false
}

// Raw returns the in-memory raw bytes of a Loaded entry.
func (e OutputEntry) Raw() []byte { return e.raw }

// Format returns the classified format of a Loaded entry.
func (e OutputEntry) Format() Format { return e.format }

// URL returns the stored location of a Stored entry.
func (e OutputEntry) URL() string { return e.url }

// Summary returns the textual summary of a Stored entry.
func (e OutputEntry) Summary() string { return e.summary }

// String mirrors the teacher's Display impl: text/truncation-notice for
// inline/loaded content, an image tag, or a stored-with-url line.
func (e OutputEntry) String() string {
	switch e.kind {
	case entryEmpty:
		return ""
	case entryInline, entryLoaded:
		return e.content.String()
	case entryStored:
		if e.content.Type != "" {
			return fmt.Sprintf("%s (stored at %s)", e.content.String(), e.url)
		}
		if e.summary != "" {
			return fmt.Sprintf("%s (stored at %s)", e.summary, e.url)
		}
		return fmt.Sprintf("(stored at %s)", e.url)
	default:
		return ""
	}
}

// jsonShape is the flattened, untagged JSON surface shared by all four
// entry kinds: {} for Empty, {"content":...} for Inline/Loaded, and
// {"url":...,"content"?:...,"summary"?:...} for Stored.
type jsonShape struct {
	Content *Content `json:"content,omitempty"`
	URL     string   `json:"url,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// MarshalJSON implements the untagged-union surface spec §4.5 requires.
func (e OutputEntry) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case entryEmpty:
		return []byte("{}"), nil
	case entryInline, entryLoaded:
		c := e.content
		return json.Marshal(jsonShape{Content: &c})
	case entryStored:
		shape := jsonShape{URL: e.url, Summary: e.summary}
		if e.content.Type != "" {
			c := e.content
			shape.Content = &c
		}
		return json.Marshal(shape)
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON reconstructs the variant from which fields are present,
// mirroring the teacher's custom Deserialize: a "url" field means Stored,
// a bare "content" field (no url) means Inline, nothing at all means Empty.
//
// Loaded is never reconstructed from JSON: it only exists in-process
// (it carries raw bytes that are never serialized), so a round-tripped
// Loaded entry degrades to Inline. Callers that need the raw bytes back
// must re-`Read` them from the store via the entry's URL once it has been
// offloaded.
func (e *OutputEntry) UnmarshalJSON(data []byte) error {
	var shape jsonShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	switch {
	case shape.URL != "":
		*e = StoredEntry(shape.URL, shape.Content, shape.Summary)
	case shape.Content != nil:
		*e = InlineEntry(*shape.Content)
	default:
		*e = EmptyEntry()
	}
	return nil
}

// OutputRef pairs a resolved entry with the format/size metadata needed
// by callers deciding how to render it further (e.g. the compaction
// pipeline choosing whether an entry is eligible for lazy offload).
type OutputRef struct {
	Entry  OutputEntry
	Format Format
	Size   int
}
