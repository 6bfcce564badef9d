// Package memory implements the context memory (C7): the single object
// owning an agent turn's entire context-window state — a stable,
// cacheable system-blocks prefix plus the rolling conversation history
// (long-term summaries and recent verbatim messages).
package memory

import (
	"encoding/xml"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Context owns the full context-window state for one agent session.
// System blocks form a stable, cacheable prefix; summaries and recent
// messages are the rolling conversation.
type Context struct {
	mu sync.RWMutex

	blockOrder []string
	blocks     map[string]string

	summaries []*models.Message
	recent    []*models.Message
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{blocks: make(map[string]string)}
}

// --- System blocks (stable, cacheable prefix) ---

// InsertSystem serializes value to XML under a tag derived from value's
// snake_cased type name and stores it as a system block, replacing any
// block already registered under that tag. Mirrors the original's
// `insert_system<T>`, using encoding/xml in place of quick_xml since no
// XML library appears anywhere in the retrieved pack.
func InsertSystem[T any](c *Context, value T) error {
	tag := snakeCaseTypeName(value)
	return c.InsertSystemValue(tag, value)
}

// InsertSystemValue is InsertSystem with an explicit tag, for callers that
// need a tag other than the value's own type name.
func (c *Context) InsertSystemValue(tag string, value any) error {
	body, err := xml.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal system block %q: %w", tag, err)
	}
	return c.insertSystemXML(tag, string(body))
}

// InsertSystemNamed stores content verbatim, wrapped in <tag>...</tag>,
// for plain-text system blocks that don't need struct serialization.
func (c *Context) InsertSystemNamed(tag, content string) {
	_ = c.insertSystemXML(tag, fmt.Sprintf("<%s>\n%s\n</%s>", tag, content, tag))
}

func (c *Context) insertSystemXML(tag, xmlBody string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.blocks[tag]; !exists {
		c.blockOrder = append(c.blockOrder, tag)
	}
	c.blocks[tag] = xmlBody
	return nil
}

// RemoveSystem removes a system block by tag.
func (c *Context) RemoveSystem(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocks[tag]; !ok {
		return
	}
	delete(c.blocks, tag)
	for i, t := range c.blockOrder {
		if t == tag {
			c.blockOrder = append(c.blockOrder[:i], c.blockOrder[i+1:]...)
			break
		}
	}
}

// HasSystemBlock reports whether tag is registered.
func (c *Context) HasSystemBlock(tag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocks[tag]
	return ok
}

// SystemBlockCount returns the number of registered system blocks.
func (c *Context) SystemBlockCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blockOrder)
}

// --- Conversation (summaries + recent) ---

// Push appends a message to the recent, verbatim conversation.
func (c *Context) Push(msg *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, msg)
}

// Extend appends multiple messages to recent.
func (c *Context) Extend(msgs []*models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, msgs...)
}

// PushSummary appends a compressed summary message to long-term memory.
func (c *Context) PushSummary(summary *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, summary)
}

// All returns every message: summaries first, then recent, per spec.
func (c *Context) All() []*models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Message, 0, len(c.summaries)+len(c.recent))
	out = append(out, c.summaries...)
	out = append(out, c.recent...)
	return out
}

// Recent returns the recent (non-summary) messages.
func (c *Context) Recent() []*models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Message, len(c.recent))
	copy(out, c.recent)
	return out
}

// LenRecent returns the number of recent messages.
func (c *Context) LenRecent() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recent)
}

// Last returns the most recent message, preferring recent over summaries.
func (c *Context) Last() *models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.recent) > 0 {
		return c.recent[len(c.recent)-1]
	}
	if len(c.summaries) > 0 {
		return c.summaries[len(c.summaries)-1]
	}
	return nil
}

// DrainOldest removes all but the last keep recent messages and returns
// the removed (older) slice, for the compaction pipeline (C8).
func (c *Context) DrainOldest(keep int) []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keep >= len(c.recent) {
		return nil
	}
	cut := len(c.recent) - keep
	drained := make([]*models.Message, cut)
	copy(drained, c.recent[:cut])
	c.recent = append([]*models.Message(nil), c.recent[cut:]...)
	return drained
}

// BuildMessages renders the full request message array: one system
// message carrying the concatenated system-block XML (if any), followed
// by summaries, followed by recent.
func (c *Context) BuildMessages() []*models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Message
	if len(c.blockOrder) > 0 {
		parts := make([]string, 0, len(c.blockOrder))
		for _, tag := range c.blockOrder {
			parts = append(parts, c.blocks[tag])
		}
		out = append(out, &models.Message{Role: models.RoleSystem, Content: strings.Join(parts, "\n")})
	}
	out = append(out, c.summaries...)
	out = append(out, c.recent...)
	return out
}

// ClearConversation clears summaries and recent, keeping system blocks.
func (c *Context) ClearConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = nil
	c.recent = nil
}

// Clear clears everything: system blocks, summaries, and recent.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockOrder = nil
	c.blocks = make(map[string]string)
	c.summaries = nil
	c.recent = nil
}

// Fork returns a deep-enough clone (message pointers are shared, but the
// slices and block map are independent) for branch/what-if execution.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fork := &Context{
		blockOrder: append([]string(nil), c.blockOrder...),
		blocks:     make(map[string]string, len(c.blocks)),
		summaries:  append([]*models.Message(nil), c.summaries...),
		recent:     append([]*models.Message(nil), c.recent...),
	}
	for k, v := range c.blocks {
		fork.blocks[k] = v
	}
	return fork
}

// Checkpoint is a restorable snapshot of the conversation (not the system
// blocks, which are managed separately and survive a restore).
type Checkpoint struct {
	summaries []*models.Message
	recent    []*models.Message
}

// Len returns the total number of messages in the checkpoint.
func (cp Checkpoint) Len() int { return len(cp.summaries) + len(cp.recent) }

// Checkpoint snapshots the current conversation state.
func (c *Context) Checkpoint() Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Checkpoint{
		summaries: append([]*models.Message(nil), c.summaries...),
		recent:    append([]*models.Message(nil), c.recent...),
	}
}

// Restore replaces the conversation with a prior checkpoint. System
// blocks are untouched.
func (c *Context) Restore(cp Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append([]*models.Message(nil), cp.summaries...)
	c.recent = append([]*models.Message(nil), cp.recent...)
}

// snakeCaseTypeName derives a system-block tag from value's type name,
// the Go stand-in for the original's `std::any::type_name` + heck
// snake-casing.
func snakeCaseTypeName(value any) string {
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return toSnakeCase(t.Name())
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
