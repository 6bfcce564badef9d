// Package compaction implements the lossy context-compression pipeline: when
// a conversation's token footprint saturates the governing context window,
// older messages are replaced by a single summary, with any oversized tool
// output the summary actually cites preserved behind a lazily-written URL
// instead of being copied inline.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/agent/memory"
	ctxwindow "github.com/haasonsaas/nexus-core/internal/context"
	"github.com/haasonsaas/nexus-core/internal/output"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Config controls when and how the pipeline fires.
type Config struct {
	// PreserveRecent is how many trailing messages are exempt from
	// compression; everything older is a candidate for the summary.
	PreserveRecent int

	// ToolContentThreshold is the byte size above which a tool message's
	// content is staged as a lazy URL instead of being inlined into the
	// summarization prompt.
	ToolContentThreshold int

	// MainContextWindow and FastContextWindow are the token budgets of the
	// primary and fast-tier providers. The smaller of the two governs
	// when compression fires, since the fast model has to be able to see
	// whatever it's asked to summarize.
	MainContextWindow int
	FastContextWindow int

	// TriggerRatio is the fraction of the governing window that must be
	// in use before ShouldCompress reports true.
	TriggerRatio float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PreserveRecent:       10,
		ToolContentThreshold: 500,
		TriggerRatio:         0.8,
	}
}

// ForModels resolves MainContextWindow/FastContextWindow from known model
// context-window tables, leaving any already-set value alone so a caller
// can still override by hand.
func (c Config) ForModels(mainModel, fastModel string) Config {
	if c.MainContextWindow == 0 {
		if tokens, ok := ctxwindow.GetModelContextWindow(mainModel); ok {
			c.MainContextWindow = tokens
		}
	}
	if c.FastContextWindow == 0 {
		if tokens, ok := ctxwindow.GetModelContextWindow(fastModel); ok {
			c.FastContextWindow = tokens
		}
	}
	return c
}

func (c Config) normalized() Config {
	if c.PreserveRecent <= 0 {
		c.PreserveRecent = 10
	}
	if c.ToolContentThreshold <= 0 {
		c.ToolContentThreshold = 500
	}
	if c.TriggerRatio <= 0 {
		c.TriggerRatio = 0.8
	}
	return c
}

// FastProvider is the narrow surface the pipeline needs from a fast-tier
// model: one summarization call. Callers adapt their real LLMProvider to
// this interface rather than the pipeline depending on it directly, which
// would otherwise create an import cycle with the agent package that wires
// this pipeline in.
type FastProvider interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// offer pairs an allocated-but-unwritten URL with the content it would
// hold if the fast model ends up citing it.
type offer struct {
	URL     string
	Content string
}

// Pipeline implements the five-step compression algorithm.
type Pipeline struct {
	cfg   Config
	store *output.Store
	fast  FastProvider
}

// New builds a pipeline over store (for lazy URL allocation) and fast (the
// fast-tier summarizer).
func New(cfg Config, store *output.Store, fast FastProvider) *Pipeline {
	return &Pipeline{cfg: cfg.normalized(), store: store, fast: fast}
}

// ShouldCompress reports whether estimatedTokens has saturated the
// governing (minimum of main/fast) context window enough to trigger
// compression.
func (p *Pipeline) ShouldCompress(estimatedTokens int) bool {
	window := p.governingWindow()
	if window <= 0 {
		return false
	}
	return float64(estimatedTokens) >= float64(window)*p.cfg.TriggerRatio
}

func (p *Pipeline) governingWindow() int {
	switch {
	case p.cfg.MainContextWindow <= 0:
		return p.cfg.FastContextWindow
	case p.cfg.FastContextWindow <= 0:
		return p.cfg.MainContextWindow
	case p.cfg.MainContextWindow < p.cfg.FastContextWindow:
		return p.cfg.MainContextWindow
	default:
		return p.cfg.FastContextWindow
	}
}

// Result reports what Run did.
type Result struct {
	Compressed     bool
	RemovedCount   int
	Summary        *models.Message
	ReferencedURLs []string
	DiscardedURLs  []string
}

// Run executes the compression algorithm against mem's recent messages. It
// is a no-op (Compressed: false) if there aren't more than PreserveRecent
// messages to work with. Nothing in mem is mutated unless the fast-tier
// summary request succeeds, so a failed Run leaves the conversation intact.
func (p *Pipeline) Run(ctx context.Context, mem *memory.Context) (*Result, error) {
	recent := mem.Recent()
	if len(recent) <= p.cfg.PreserveRecent {
		return &Result{}, nil
	}

	cut := len(recent) - p.cfg.PreserveRecent
	toCompress := append([]*models.Message(nil), recent[:cut]...)
	preserved := ExtractPreservedContent(recent)

	offers := p.allocatePending(toCompress)

	summaryText, referenced, err := p.requestSummary(ctx, toCompress, preserved, offers)
	if err != nil {
		return nil, err
	}

	var referencedURLs, discardedURLs []string
	for _, o := range offers {
		if referenced[o.URL] {
			if err := p.store.WritePending(o.URL); err != nil {
				return nil, fmt.Errorf("compaction: commit %s: %w", o.URL, err)
			}
			referencedURLs = append(referencedURLs, o.URL)
		} else {
			discardedURLs = append(discardedURLs, o.URL)
		}
	}

	drained := mem.DrainOldest(p.cfg.PreserveRecent)

	summaryMsg := &models.Message{
		Role:    models.RoleSystem,
		Content: summaryText,
		Metadata: map[string]any{
			"compaction_summary": true,
			"referenced_urls":    referencedURLs,
		},
	}
	mem.PushSummary(summaryMsg)

	return &Result{
		Compressed:     true,
		RemovedCount:   len(drained),
		Summary:        summaryMsg,
		ReferencedURLs: referencedURLs,
		DiscardedURLs:  discardedURLs,
	}, nil
}

// allocatePending stages a lazy URL for every oversized tool-role message
// in msgs, deduplicating identical content so two tool calls that happen to
// produce the same output share one URL.
func (p *Pipeline) allocatePending(msgs []*models.Message) []offer {
	seen := make(map[string]string)
	var offers []offer
	for _, m := range msgs {
		if m == nil || m.Role != models.RoleTool {
			continue
		}
		content := toolMessageContent(m)
		if len(content) <= p.cfg.ToolContentThreshold {
			continue
		}
		if _, ok := seen[content]; ok {
			continue
		}
		url := p.store.AllocateTextURL([]byte(content), output.FormatText)
		seen[content] = url
		offers = append(offers, offer{URL: url, Content: content})
	}
	return offers
}

func toolMessageContent(m *models.Message) string {
	if len(m.ToolResults) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for i, tr := range m.ToolResults {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(tr.Content)
	}
	return sb.String()
}

func (p *Pipeline) requestSummary(ctx context.Context, toCompress []*models.Message, preserved PreservedContent, offers []offer) (string, map[string]bool, error) {
	prompt := buildSummaryPrompt(toCompress, preserved, offers)
	raw, err := p.fast.Summarize(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("compaction: summarize: %w", err)
	}
	summary, referenced := parseReferencedURLs(raw)
	return summary, referenced, nil
}

func buildSummaryPrompt(toCompress []*models.Message, preserved PreservedContent, offers []offer) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation segment concisely, preserving any facts needed to continue the task.\n\n")

	if !preserved.IsEmpty() {
		sb.WriteString("Context still in effect:\n")
		sb.WriteString(preserved.String())
		sb.WriteString("\n")
	}

	sb.WriteString("Conversation:\n\n")
	for _, m := range toCompress {
		if m == nil {
			continue
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, truncate(m.Content, 2000))
	}

	if len(offers) > 0 {
		sb.WriteString("\nLarge tool outputs are available at these URLs; cite any you relied on:\n")
		for _, o := range offers {
			fmt.Fprintf(&sb, "- %s: %s\n", o.URL, truncate(o.Content, 300))
		}
	}

	sb.WriteString("\nEnd your reply with exactly one line of the form:\n")
	sb.WriteString("REFERENCED_URLS: url1, url2\n")
	sb.WriteString("(or REFERENCED_URLS: none if you did not rely on any of them)\n")
	return sb.String()
}

var referencedURLsPattern = regexp.MustCompile(`(?mi)^REFERENCED_URLS:\s*(.*)$`)

// parseReferencedURLs splits a fast-model response into the summary text
// and the set of URLs it cited, per the REFERENCED_URLS trailer
// buildSummaryPrompt asks for.
func parseReferencedURLs(response string) (summary string, referenced map[string]bool) {
	referenced = make(map[string]bool)
	loc := referencedURLsPattern.FindStringSubmatchIndex(response)
	if loc == nil {
		return strings.TrimSpace(response), referenced
	}
	summary = strings.TrimSpace(response[:loc[0]])
	for _, u := range strings.Split(response[loc[2]:loc[3]], ",") {
		u = strings.TrimSpace(u)
		if u == "" || strings.EqualFold(u, "none") {
			continue
		}
		referenced[u] = true
	}
	return summary, referenced
}

// PreservedContent is pulled from the entire transcript (not just the
// to-compress slice) so it survives compression even if the commands or
// files it names only appear in messages about to be dropped.
type PreservedContent struct {
	RunningCommands []string
	OpenFiles       []string
	RecentTools     []string
}

func (p PreservedContent) IsEmpty() bool {
	return len(p.RunningCommands) == 0 && len(p.OpenFiles) == 0 && len(p.RecentTools) == 0
}

func (p PreservedContent) String() string {
	var sb strings.Builder
	if len(p.RunningCommands) > 0 {
		sb.WriteString("Running commands:\n")
		for _, c := range p.RunningCommands {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(p.OpenFiles) > 0 {
		sb.WriteString("Open files:\n")
		for _, f := range p.OpenFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if len(p.RecentTools) > 0 {
		sb.WriteString("Recent tool invocations:\n")
		for _, t := range p.RecentTools {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}
	return sb.String()
}

var filePathPattern = regexp.MustCompile(`(?:^|\s)((?:\./|/|[\w.-]+/)[\w./-]+\.[A-Za-z0-9]{1,8})`)

const (
	maxPreservedOpenFiles   = 10
	maxPreservedRecentTools = 10
)

// ExtractPreservedContent scans bash tool calls across the whole transcript
// for commands that never received a matching result (still running in the
// background per spec §4.5's timeout semantics), file paths mentioned in
// scripts, and a rolling list of recent tool invocations.
func ExtractPreservedContent(messages []*models.Message) PreservedContent {
	hasResult := make(map[string]bool)
	for _, m := range messages {
		if m == nil {
			continue
		}
		for _, tr := range m.ToolResults {
			hasResult[tr.ToolCallID] = true
		}
	}

	var preserved PreservedContent
	seenFiles := make(map[string]bool)
	seenTools := make(map[string]bool)

	for _, m := range messages {
		if m == nil {
			continue
		}
		for _, tc := range m.ToolCalls {
			script := bashScript(tc)
			if script == "" {
				continue
			}

			if !hasResult[tc.ID] {
				preserved.RunningCommands = append(preserved.RunningCommands, truncate(script, 200))
			}

			for _, match := range filePathPattern.FindAllStringSubmatch(script, -1) {
				path := strings.TrimSpace(match[1])
				if path == "" || seenFiles[path] {
					continue
				}
				seenFiles[path] = true
				preserved.OpenFiles = append(preserved.OpenFiles, path)
			}

			label := fmt.Sprintf("%s: %s", tc.Name, truncate(script, 80))
			if !seenTools[label] {
				seenTools[label] = true
				preserved.RecentTools = append(preserved.RecentTools, label)
			}
		}
	}

	if len(preserved.OpenFiles) > maxPreservedOpenFiles {
		preserved.OpenFiles = preserved.OpenFiles[len(preserved.OpenFiles)-maxPreservedOpenFiles:]
	}
	if len(preserved.RecentTools) > maxPreservedRecentTools {
		preserved.RecentTools = preserved.RecentTools[len(preserved.RecentTools)-maxPreservedRecentTools:]
	}

	return preserved
}

func bashScript(tc models.ToolCall) string {
	var args struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal(tc.Input, &args); err != nil {
		return ""
	}
	return args.Script
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
