package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// toolSearchToolName is the meta-tool name the loop looks for when deciding
// whether a tool-search round trip discovered new tools to offer.
const toolSearchToolName = "tool_search"

// ToolSearchIndex tracks, per session, which tools a tool_search call has
// surfaced so far. Once a tool is discovered it stays in the eager subset
// offered on every later request in that session (spec §4.9's tool-search
// mode: "the meta-tool returns matching definitions that the loop then
// appends to subsequent requests").
type ToolSearchIndex struct {
	mu         sync.RWMutex
	discovered map[string]map[string]bool
}

// NewToolSearchIndex creates an empty ToolSearchIndex.
func NewToolSearchIndex() *ToolSearchIndex {
	return &ToolSearchIndex{discovered: make(map[string]map[string]bool)}
}

// Record marks the given tool names as discovered for sessionID.
func (idx *ToolSearchIndex) Record(sessionID string, names ...string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set := idx.discovered[sessionID]
	if set == nil {
		set = make(map[string]bool, len(names))
		idx.discovered[sessionID] = set
	}
	for _, name := range names {
		set[name] = true
	}
}

// Discovered reports whether toolName has been surfaced by a prior
// tool_search call in sessionID.
func (idx *ToolSearchIndex) Discovered(sessionID, toolName string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.discovered[sessionID][toolName]
}

// toolSearchTool is the meta-tool offered in place of the full tool list
// once the registry grows past LoopConfig.ToolSearchThreshold. It searches
// tool names and descriptions for a query and records matches so the next
// request's eager subset includes them, per spec §4.9's "optional"
// tool-search mode (promoted to a real, testable mechanism here).
type toolSearchTool struct {
	registry *ToolRegistry
	index    *ToolSearchIndex
}

// NewToolSearchTool returns the tool_search meta-tool bound to registry and
// index. Registering it is the caller's responsibility; NewAgenticLoop does
// this automatically when LoopConfig.ToolSearchThreshold is set.
func NewToolSearchTool(registry *ToolRegistry, index *ToolSearchIndex) Tool {
	return &toolSearchTool{registry: registry, index: index}
}

func (t *toolSearchTool) Name() string { return toolSearchToolName }

func (t *toolSearchTool) Description() string {
	return "Search the full tool catalog by keyword when the tool you need isn't in the " +
		"current list. Returns matching tool definitions, which become available to call " +
		"on the next turn."
}

func (t *toolSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keyword(s) to search tool names and descriptions for."}
		},
		"required": ["query"]
	}`)
}

type toolSearchArgs struct {
	Query string `json:"query"`
}

type toolSearchMatch struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

func (t *toolSearchTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args toolSearchArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	query := strings.ToLower(strings.TrimSpace(args.Query))
	if query == "" {
		return &ToolResult{Content: "query must not be empty", IsError: true}, nil
	}

	sessionID := ""
	if session := SessionFromContext(ctx); session != nil {
		sessionID = session.ID
	}

	var matches []toolSearchMatch
	var names []string
	for _, tool := range t.registry.AsLLMTools() {
		if tool.Name() == toolSearchToolName {
			continue
		}
		if !strings.Contains(strings.ToLower(tool.Name()), query) &&
			!strings.Contains(strings.ToLower(tool.Description()), query) {
			continue
		}
		matches = append(matches, toolSearchMatch{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
		names = append(names, tool.Name())
	}

	if len(names) > 0 && t.index != nil {
		t.index.Record(sessionID, names...)
	}

	payload, err := json.Marshal(map[string]any{"matches": matches})
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("marshal matches: %v", err), IsError: true}, nil
	}
	if len(matches) == 0 {
		return &ToolResult{Content: "no tools matched that query"}, nil
	}
	return &ToolResult{Content: string(payload)}, nil
}

// selectToolSearchSubset reduces tools to the eager subset (patterns in
// LoopConfig.EagerTools, plus anything already discovered for sessionID)
// plus the tool_search meta-tool itself, per spec §4.9's tool-search mode.
// It is a no-op unless ToolSearchThreshold is set and exceeded.
func (l *AgenticLoop) selectToolSearchSubset(ctx context.Context, tools []Tool) []Tool {
	if l.config.ToolSearchThreshold <= 0 || len(tools) <= l.config.ToolSearchThreshold {
		return tools
	}

	sessionID := ""
	if session := SessionFromContext(ctx); session != nil {
		sessionID = session.ID
	}
	resolver, _, _ := toolPolicyFromContext(ctx)

	subset := make([]Tool, 0, l.config.ToolSearchThreshold+1)
	seen := make(map[string]bool)
	for _, tool := range tools {
		name := tool.Name()
		if name == toolSearchToolName {
			continue
		}
		eager := matchesToolPatterns(l.config.EagerTools, name, resolver)
		discovered := l.config.ToolSearchIndex != nil && l.config.ToolSearchIndex.Discovered(sessionID, name)
		if !eager && !discovered {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		subset = append(subset, tool)
	}

	if searchTool, ok := l.executor.registry.Get(toolSearchToolName); ok {
		subset = append(subset, searchTool)
	}
	return subset
}
