package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-core/internal/bashtool"
	"github.com/haasonsaas/nexus-core/internal/output"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// fakeBackgroundSource is a BackgroundJobSource whose single task becomes
// available only after readyAt, simulating a backgrounded script that
// finishes mid-poll (scenario S3).
type fakeBackgroundSource struct {
	mu      sync.Mutex
	task    *bashtool.CompletedTask
	readyAt time.Time
}

func (f *fakeBackgroundSource) ready() bool {
	return !f.readyAt.IsZero() && time.Now().After(f.readyAt)
}

func (f *fakeBackgroundSource) HasPendingTasks() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.task != nil && f.ready()
}

func (f *fakeBackgroundSource) TakeCompleted() []bashtool.CompletedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.task == nil || !f.ready() {
		return nil
	}
	task := *f.task
	f.task = nil
	return []bashtool.CompletedTask{task}
}

// TestAgenticLoop_BackgroundDrainAfterLoop exercises scenario S3: a
// background task completes just as the run is about to conclude, and the
// post-loop poll folds its completion in as a system message instead of
// letting the run end.
func TestAgenticLoop_BackgroundDrainAfterLoop(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "starting a background job"}, {Done: true}},
			{{Text: "done"}, {Done: true}},
		},
	}

	bg := &fakeBackgroundSource{
		task: &bashtool.CompletedTask{
			TaskID: "task-1",
			Script: "sleep 1",
			Result: bashtool.Result{
				Stdout:   output.InlineEntry(output.Content{Type: "text", Text: "slept"}),
				ExitCode: 0,
				TaskID:   "task-1",
				Status:   "completed",
			},
		},
		readyAt: time.Now().Add(30 * time.Millisecond),
	}

	config := DefaultLoopConfig()
	config.BackgroundJobs = bg
	config.BackgroundDrainMaxWait = 500 * time.Millisecond
	config.BackgroundDrainPollInterval = 10 * time.Millisecond

	loop := NewAgenticLoop(provider, NewToolRegistry(), newLoopMemoryStore(), config)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "run something in the background"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var text string
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected error: %v", chunk.Error)
		}
		text += chunk.Text
	}

	if text != "starting a background jobdone" {
		t.Errorf("got text %q, want %q", text, "starting a background jobdone")
	}
	if provider.currentCall != 2 {
		t.Errorf("provider called %d times, want 2 (loop should have continued after the background drain)", provider.currentCall)
	}
}

// TestAgenticLoop_TodoReminder exercises the todo-snapshot-comparison
// reminder: a todo_write call completing the last open item should inject a
// completion reminder the model sees on its next turn.
func TestAgenticLoop_TodoReminder(t *testing.T) {
	var secondTurnMessages []CompletionMessage
	provider := &loopTestProvider{
		completeFunc: func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
			ch := make(chan *CompletionChunk, 2)
			if len(secondTurnMessages) == 0 && len(req.Messages) > 0 {
				// First call: issue the todo_write tool call.
				ch <- &CompletionChunk{ToolCall: &models.ToolCall{
					ID:    "call-1",
					Name:  "todo_write",
					Input: json.RawMessage(`{"merge":true,"todos":[{"id":"t1","content":"finish thing","status":"completed"}]}`),
				}}
				ch <- &CompletionChunk{Done: true}
				secondTurnMessages = append(secondTurnMessages, CompletionMessage{})
				close(ch)
				return ch, nil
			}
			// Second call: record what the loop is about to send, then finish.
			secondTurnMessages = append(secondTurnMessages, req.Messages...)
			ch <- &CompletionChunk{Text: "wrapping up"}
			ch <- &CompletionChunk{Done: true}
			close(ch)
			return ch, nil
		},
	}

	todos := NewTodoManager()
	registry := NewToolRegistry()
	registry.Register(todos.Tool(""))

	config := DefaultLoopConfig()
	config.Todos = todos

	loop := NewAgenticLoop(provider, registry, newLoopMemoryStore(), config)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "mark the last todo done"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected error: %v", chunk.Error)
		}
	}

	var sawCompletionReminder bool
	for _, m := range secondTurnMessages {
		if m.Role == string(models.RoleSystem) && strings.Contains(m.Content, "complete") {
			sawCompletionReminder = true
		}
	}
	if !sawCompletionReminder {
		t.Errorf("expected a system message reminding that all todos are complete, got messages: %+v", secondTurnMessages)
	}
}

// TestAgenticLoop_NotFoundReminder exercises the not-found/invalid-args
// system reminder: a tool result hinting the tool wasn't found should
// inject a clarifying reminder that bash is the only available tool.
func TestAgenticLoop_NotFoundReminder(t *testing.T) {
	var secondTurnMessages []CompletionMessage
	provider := &loopTestProvider{
		completeFunc: func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
			ch := make(chan *CompletionChunk, 2)
			if secondTurnMessages == nil {
				secondTurnMessages = []CompletionMessage{}
				ch <- &CompletionChunk{ToolCall: &models.ToolCall{
					ID:    "call-1",
					Name:  "nonexistent",
					Input: json.RawMessage(`{}`),
				}}
				ch <- &CompletionChunk{Done: true}
				close(ch)
				return ch, nil
			}
			secondTurnMessages = append(secondTurnMessages, req.Messages...)
			ch <- &CompletionChunk{Text: "ok"}
			ch <- &CompletionChunk{Done: true}
			close(ch)
			return ch, nil
		},
	}

	registry := NewToolRegistry()
	config := DefaultLoopConfig()
	loop := NewAgenticLoop(provider, registry, newLoopMemoryStore(), config)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "call a bogus tool"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected error: %v", chunk.Error)
		}
	}

	var sawReminder bool
	for _, m := range secondTurnMessages {
		if m.Role == string(models.RoleSystem) && strings.Contains(m.Content, "bash") {
			sawReminder = true
		}
	}
	if !sawReminder {
		t.Errorf("expected a system reminder that bash is the only tool, got messages: %+v", secondTurnMessages)
	}
}

// TestAgenticLoop_ToolSearchSubset exercises tool-search mode: above
// ToolSearchThreshold, a request should offer only the eager subset plus
// the tool_search meta-tool, not every registered tool.
func TestAgenticLoop_ToolSearchSubset(t *testing.T) {
	var offered []string
	provider := &loopTestProvider{
		completeFunc: func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
			for _, tool := range req.Tools {
				offered = append(offered, tool.Name())
			}
			ch := make(chan *CompletionChunk, 1)
			ch <- &CompletionChunk{Text: "ok"}
			ch <- &CompletionChunk{Done: true}
			close(ch)
			return ch, nil
		},
	}

	registry := NewToolRegistry()
	for _, name := range []string{"alpha", "bravo", "charlie", "delta"} {
		registry.Register(&testExecTool{name: name, execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		}})
	}

	config := DefaultLoopConfig()
	config.ToolSearchThreshold = 2
	config.EagerTools = []string{"alpha"}

	loop := NewAgenticLoop(provider, registry, newLoopMemoryStore(), config)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "hi"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected error: %v", chunk.Error)
		}
	}

	offeredSet := make(map[string]bool, len(offered))
	for _, name := range offered {
		offeredSet[name] = true
	}
	if !offeredSet["alpha"] {
		t.Errorf("expected eager tool %q to be offered, got %v", "alpha", offered)
	}
	if !offeredSet["tool_search"] {
		t.Errorf("expected tool_search meta-tool to be offered, got %v", offered)
	}
	if offeredSet["bravo"] || offeredSet["charlie"] || offeredSet["delta"] {
		t.Errorf("expected non-eager tools to be hidden above threshold, got %v", offered)
	}
	if len(offered) != 2 {
		t.Errorf("got %d tools offered, want 2 (alpha + tool_search), got %v", len(offered), offered)
	}
}
