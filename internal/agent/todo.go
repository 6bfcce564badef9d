package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// TodoItem is a single entry in a session's task list, grounded on the same
// id/content/status shape a todo_write-style tool exposes to the model.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

const (
	TodoStatusPending    = "pending"
	TodoStatusInProgress = "in_progress"
	TodoStatusCompleted  = "completed"
	TodoStatusCanceled   = "canceled"
)

// TodoStore lets the agent loop snapshot a session's todo list around a
// todo-list tool call, per spec §4.9's "snapshot todo-list state" /
// "compare snapshot vs current" sequence. internal/agent's own TodoManager
// is the default implementation; any session-keyed todo tracker can
// implement it.
type TodoStore interface {
	Snapshot(sessionID string) []TodoItem
}

// TodoManager is an in-memory, session-keyed TodoStore plus the todo_write
// tool that mutates it. Grounded on the hector example pack's
// tool/todotool.TodoManager: a merge-or-replace write with the same
// cannot-clear invariant (the todos array must always contain at least
// one item once established).
type TodoManager struct {
	mu    sync.RWMutex
	todos map[string][]TodoItem
}

// NewTodoManager creates an empty TodoManager.
func NewTodoManager() *TodoManager {
	return &TodoManager{todos: make(map[string][]TodoItem)}
}

// Snapshot returns a copy of the session's current todo list.
func (m *TodoManager) Snapshot(sessionID string) []TodoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing := m.todos[sessionID]
	out := make([]TodoItem, len(existing))
	copy(out, existing)
	return out
}

// Tool returns the todo_write tool bound to this manager. Name defaults to
// "todo_write"; pass a different name to register it under another name.
func (m *TodoManager) Tool(name string) Tool {
	if strings.TrimSpace(name) == "" {
		name = DefaultTodoToolName
	}
	return &todoWriteTool{name: name, manager: m}
}

// DefaultTodoToolName is the tool name the loop looks for when deciding
// whether a turn's tool calls touched the todo list.
const DefaultTodoToolName = "todo_write"

type todoWriteArgs struct {
	Merge bool       `json:"merge"`
	Todos []TodoItem `json:"todos"`
}

func (m *TodoManager) write(sessionID string, args todoWriteArgs) ([]TodoItem, error) {
	if len(args.Todos) == 0 {
		return nil, fmt.Errorf("todos array cannot be empty: include at least one item with id, content, and status")
	}
	for i, item := range args.Todos {
		if item.ID == "" || item.Content == "" || item.Status == "" {
			return nil, fmt.Errorf("todo item %d is missing required fields (id, content, status)", i)
		}
		if !isValidTodoStatus(item.Status) {
			return nil, fmt.Errorf("todo item %d has invalid status %q", i, item.Status)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if args.Merge {
		existing := m.todos[sessionID]
		byID := make(map[string]int, len(existing))
		for i, item := range existing {
			byID[item.ID] = i
		}
		for _, item := range args.Todos {
			if i, ok := byID[item.ID]; ok {
				existing[i] = item
			} else {
				existing = append(existing, item)
			}
		}
		m.todos[sessionID] = existing
	} else {
		m.todos[sessionID] = append([]TodoItem(nil), args.Todos...)
	}

	return m.todos[sessionID], nil
}

func isValidTodoStatus(status string) bool {
	switch status {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCanceled:
		return true
	default:
		return false
	}
}

type todoWriteTool struct {
	name    string
	manager *TodoManager
}

func (t *todoWriteTool) Name() string { return t.name }

func (t *todoWriteTool) Description() string {
	return "Create and manage a structured task list for tracking progress on multi-step work. " +
		"The todos array must always contain at least one item; completed todos remain in the list."
}

func (t *todoWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"merge": {"type": "boolean", "description": "If true, merge with existing todos; if false, replace the list."},
			"todos": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"content": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "canceled"]}
					},
					"required": ["id", "content", "status"]
				}
			}
		},
		"required": ["merge", "todos"]
	}`)
}

func (t *todoWriteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args todoWriteArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}

	sessionID := ""
	if session := SessionFromContext(ctx); session != nil {
		sessionID = session.ID
	}

	todos, err := t.manager.write(sessionID, args)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	payload, err := json.Marshal(map[string]any{"todos": todos})
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("marshal todos: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: string(payload)}, nil
}
