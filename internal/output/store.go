package output

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PendingURL is a lazily-allocated, not-yet-written location: the
// compaction pipeline (C8) asks for a URL before it knows whether the
// summary it's building will actually reference it, so the bytes are
// staged here and only committed to disk via WriteText/WritePending once
// a caller confirms the URL is actually used.
type PendingURL struct {
	URL    string
	Raw    []byte
	Format Format
}

// Store is the content-addressed sink for bash tool output, per spec §4.4.
// It classifies raw bytes into Empty/Inline/Loaded/Stored entries, offloads
// Loaded entries to disk on demand, and serves lazy URL allocation for the
// compaction pipeline.
//
// URLs are the relative form "outputs/<slug>.<ext>", rooted at workDir (the
// owning BashTool's working directory) rather than an absolute path, so
// they remain meaningful if the working directory is later relocated and
// stay short enough for a model to cite in a compaction summary.
type Store struct {
	workDir string
	dir     string // workDir/outputs

	mu      sync.Mutex
	pending map[string]PendingURL
	nextID  uint64
}

// NewStore creates workDir/outputs (if missing) and returns a Store rooted
// there.
func NewStore(workDir string) (*Store, error) {
	dir := filepath.Join(workDir, "outputs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: create dir %s: %w", dir, err)
	}
	return &Store{
		workDir: workDir,
		dir:     dir,
		pending: make(map[string]PendingURL),
	}, nil
}

// Dir returns the store's outputs directory.
func (s *Store) Dir() string { return s.dir }

// urlFor returns the relative outputs/<name> URL for a file already
// written (or about to be written) under s.dir.
func (s *Store) urlFor(name string) string {
	return "outputs/" + name
}

// resolve turns a relative outputs/<name> URL back into an absolute path
// under workDir.
func (s *Store) resolve(url string) string {
	return filepath.Join(s.workDir, filepath.FromSlash(url))
}

// Save classifies raw bytes according to the ladder in spec §4.4:
//
//	empty                          -> Empty
//	text, <= MaxInlineLines lines   -> Inline
//	text, <= MaxLoadedLines lines   -> Loaded (full content kept, raw mirrored to disk)
//	text, longer                    -> Stored immediately, with a PreviewLines preview
//	image                           -> always Loaded
//	video/binary                    -> always Stored immediately, summary only
//
// format, if FormatAuto, is resolved via DetectFormat.
func (s *Store) Save(raw []byte, format Format) (OutputEntry, error) {
	if len(raw) == 0 {
		return EmptyEntry(), nil
	}

	if format == FormatAuto {
		format = DetectFormat(raw)
	}

	switch format {
	case FormatImage:
		mediaType := DetectImageMediaType(raw)
		return LoadedEntry(NewImageContent(raw, mediaType), raw, format), nil
	case FormatVideo, FormatBinary:
		summary := fmt.Sprintf("%s output, %d bytes", format, len(raw))
		return s.storeImmediately(raw, format, summary, nil)
	default:
		return s.saveText(raw)
	}
}

func (s *Store) saveText(raw []byte) (OutputEntry, error) {
	text := string(raw)
	lines := splitLines(text)

	if len(lines) <= MaxInlineLines {
		return InlineEntry(NewTextContent(text, false)), nil
	}

	if len(lines) <= MaxLoadedLines {
		return LoadedEntry(NewTextContent(text, false), raw, FormatText), nil
	}

	preview := strings.Join(lines[:PreviewLines], "\n")
	more := len(lines) - PreviewLines
	previewText := fmt.Sprintf("%s\n...truncated (%d more lines)", preview, more)
	summary := fmt.Sprintf("text output, %d bytes, %d lines", len(raw), len(lines))
	content := NewTextContent(previewText, true)
	return s.storeImmediately(raw, FormatText, summary, &content)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// storeImmediately writes raw to a freshly-named file under the store's
// directory and returns a Stored entry pointing at it.
func (s *Store) storeImmediately(raw []byte, format Format, summary string, preview *Content) (OutputEntry, error) {
	name := s.generateWordFilename(format)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return OutputEntry{}, fmt.Errorf("output: write %s: %w", path, err)
	}
	return StoredEntry(s.urlFor(name), preview, summary), nil
}

// Offload converts a Loaded entry into a Stored one, writing its raw bytes
// to disk and generating a URL. Non-Loaded entries are returned unchanged.
func (s *Store) Offload(entry OutputEntry) (OutputEntry, error) {
	if !entry.IsLoaded() {
		return entry, nil
	}
	name := s.generateWordFilename(entry.Format())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, entry.Raw(), 0o644); err != nil {
		return OutputEntry{}, fmt.Errorf("output: offload %s: %w", path, err)
	}
	content, _ := entry.Content()
	return StoredEntry(s.urlFor(name), &content, ""), nil
}

// AllocateURL reserves a URL for a Loaded entry without writing anything
// to disk yet. The caller commits the bytes later via WritePending, and
// only if the URL actually ends up referenced (e.g. in a compaction
// summary).
func (s *Store) AllocateURL(entry OutputEntry) (string, error) {
	if !entry.IsLoaded() {
		return "", fmt.Errorf("output: AllocateURL requires a Loaded entry")
	}
	return s.AllocateTextURL(entry.Raw(), entry.Format()), nil
}

// AllocateTextURL reserves a URL for raw bytes without writing them to
// disk, for callers (the compaction pipeline) that hold raw text directly
// rather than an OutputEntry.
func (s *Store) AllocateTextURL(raw []byte, format Format) string {
	name := s.generateWordFilename(format)
	url := s.urlFor(name)

	s.mu.Lock()
	s.pending[url] = PendingURL{URL: url, Raw: raw, Format: format}
	s.mu.Unlock()

	return url
}

// WritePending commits the bytes staged under url (via AllocateURL /
// AllocateTextURL) to disk. It is a no-op if url was never allocated or
// has already been written.
func (s *Store) WritePending(url string) error {
	s.mu.Lock()
	pending, ok := s.pending[url]
	if ok {
		delete(s.pending, url)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.WriteText(url, pending.Raw)
}

// WriteText commits raw bytes to the path encoded in url directly,
// bypassing the pending map. Used when a caller already knows the exact
// bytes it wants to persist at a previously-allocated URL.
func (s *Store) WriteText(url string, raw []byte) error {
	path := s.resolve(url)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// Read returns the bytes stored at url.
func (s *Store) Read(url string) ([]byte, error) {
	path := s.resolve(url)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("output: read %s: %w", path, err)
	}
	return data, nil
}

// CreateFile writes data immediately under the store's directory using a
// freshly generated word-slug name, and returns both the relative URL and
// its absolute path.
func (s *Store) CreateFile(data []byte, format Format) (url, path string, err error) {
	name := s.generateWordFilename(format)
	path = filepath.Join(s.dir, name)
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("output: create file %s: %w", path, err)
	}
	return s.urlFor(name), path, nil
}

// Cleanup removes every file this store has written under its directory.
func (s *Store) Cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("output: cleanup %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("output: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) generateWordFilename(format Format) string {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	r := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)))
	slug := fmt.Sprintf("%s-%s-%s-%s",
		adjectives[r.Intn(len(adjectives))],
		nouns[r.Intn(len(nouns))],
		adjectives[r.Intn(len(adjectives))],
		nouns[r.Intn(len(nouns))],
	)
	return fmt.Sprintf("%s.%s", slug, format.Extension())
}

var adjectives = []string{
	"amber", "ancient", "arid", "autumn", "azure", "bitter", "blazing", "bold",
	"brave", "bright", "brisk", "broad", "calm", "cheerful", "clear", "cold",
	"cosmic", "crimson", "crisp", "curious", "dappled", "dark", "deep", "dim",
	"distant", "dusty", "eager", "early", "eastern", "electric", "empty", "even",
	"faint", "faithful", "fast", "fierce", "fiery", "fine", "flat", "fleet",
	"fond", "fresh", "frosty", "gentle", "giant", "glad", "golden", "gray",
	"great", "green", "grim", "happy", "harsh", "hidden", "hollow", "humble",
	"icy", "jagged", "jolly", "keen", "kind", "late", "lazy", "light",
	"little", "lively", "lonely", "loud", "lucky", "mellow", "mighty", "misty",
	"muted", "narrow", "noble", "northern", "odd", "olive", "orange", "pale",
	"patient", "plain", "proud", "quiet", "quick", "rapid", "rare", "red",
	"restless", "rough", "round", "rusty", "sandy", "scarlet",
}

var nouns = []string{
	"anchor", "arrow", "badger", "basin", "beacon", "bear", "bell", "birch",
	"boulder", "bramble", "breeze", "brook", "canyon", "cedar", "cinder", "cliff",
	"cloud", "comet", "coral", "crane", "creek", "crow", "current", "dawn",
	"delta", "desert", "dune", "eagle", "ember", "falcon", "fern", "field",
	"finch", "fjord", "flame", "forest", "fox", "glacier", "glade", "grove",
	"gull", "harbor", "hawk", "heron", "hill", "horizon", "ibis", "island",
	"ivy", "jay", "lagoon", "lake", "lantern", "leaf", "ledge", "lily",
	"lynx", "maple", "marsh", "meadow", "mesa", "moss", "mountain", "oak",
	"oasis", "orbit", "osprey", "otter", "owl", "peak", "pebble", "pine",
	"plain", "plateau", "pond", "prairie", "quarry", "rain", "raven", "reef",
	"ridge", "river", "sage", "shoal", "shore", "sky", "slope", "sparrow",
	"spring", "stone", "storm", "stream", "summit", "swan", "thicket", "thorn",
	"tide", "timber", "trail", "valley", "vine", "wave", "willow", "wren",
}
