package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/agent/compaction"
	"github.com/haasonsaas/nexus-core/internal/agent/hooks"
	"github.com/haasonsaas/nexus-core/internal/output"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func TestAgenticLoop_MalformedFunctionCallRetries(t *testing.T) {
	var calls int32
	// streamPhase matches any "malformed function call" substring in the
	// chunk error text, so exercise that path with a distinguishable error
	// rather than the package-private sentinel itself.
	provider := &loopTestProvider{
		completeFunc: func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
			n := calls
			calls++
			ch := make(chan *CompletionChunk, 2)
			if n == 0 {
				ch <- &CompletionChunk{Error: errMalformedCallForTest{}}
			} else {
				ch <- &CompletionChunk{Text: "recovered"}
				ch <- &CompletionChunk{Done: true}
			}
			close(ch)
			return ch, nil
		},
	}

	registry := NewToolRegistry()
	store := newLoopMemoryStore()
	config := DefaultLoopConfig()

	loop := NewAgenticLoop(provider, registry, store, config)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "hi"}

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

	if text != "recovered" {
		t.Errorf("got text %q, want %q", text, "recovered")
	}
	if calls != 2 {
		t.Errorf("provider called %d times, want 2 (one malformed, one retry)", calls)
	}
}

// errMalformedCallForTest mimics a provider error that mentions a malformed
// function call without referencing the package-private sentinel.
type errMalformedCallForTest struct{}

func (errMalformedCallForTest) Error() string { return "provider reported malformed function call" }

func TestAgenticLoop_HookDeniesToolCall(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}},
				{Done: true},
			},
			{
				{Text: "done"},
				{Done: true},
			},
		},
	}

	registry := NewToolRegistry()
	var executed bool
	registry.Register(&testExecTool{
		name: "echo",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			executed = true
			return &ToolResult{Content: "should not run"}, nil
		},
	})

	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())
	loop.SetHooks(hooks.Cons(denyingInterceptor{reason: "blocked by policy"}, nil))

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "run echo"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var toolResults []*models.ToolResult
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected loop error: %v", chunk.Error)
		}
		if chunk.ToolResult != nil {
			toolResults = append(toolResults, chunk.ToolResult)
		}
	}

	if executed {
		t.Fatal("tool should not have executed after a Deny verdict")
	}
	if len(toolResults) != 1 {
		t.Fatalf("got %d tool results, want 1", len(toolResults))
	}
	if !toolResults[0].IsError {
		t.Error("expected denied tool result to be an error")
	}
	if !strings.Contains(toolResults[0].Content, "blocked by policy") {
		t.Errorf("result content = %q, want it to contain denial reason", toolResults[0].Content)
	}
}

type denyingInterceptor struct {
	hooks.Base
	reason string
}

func (d denyingInterceptor) PreToolUse(_ hooks.PreToolUseContext, _ hooks.PreToolUseResult) hooks.PreToolUseResult {
	return hooks.DenyResult(d.reason)
}

func TestAgenticLoop_HookAbortsToolCall(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}},
				{Done: true},
			},
		},
	}

	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "echo",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	})

	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())
	loop.SetHooks(hooks.Cons(abortingPreInterceptor{reason: "dangerous tool"}, nil))

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "run echo"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var gotErr error
	for chunk := range ch {
		if chunk.Error != nil {
			gotErr = chunk.Error
		}
	}

	if gotErr == nil {
		t.Fatal("expected hook abort to surface as a loop error")
	}
	if !strings.Contains(gotErr.Error(), "dangerous tool") {
		t.Errorf("error = %v, want it to mention abort reason", gotErr)
	}
}

type abortingPreInterceptor struct {
	hooks.Base
	reason string
}

func (a abortingPreInterceptor) PreToolUse(_ hooks.PreToolUseContext, _ hooks.PreToolUseResult) hooks.PreToolUseResult {
	return hooks.AbortPreResult(a.reason)
}

func TestAgenticLoop_HookReplacesToolResult(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}},
				{Done: true},
			},
			{
				{Text: "done"},
				{Done: true},
			},
		},
	}

	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "echo",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "super secret value"}, nil
		},
	})

	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())
	loop.SetHooks(hooks.Cons(redactingInterceptor{}, nil))

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "run echo"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var toolResults []*models.ToolResult
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected loop error: %v", chunk.Error)
		}
		if chunk.ToolResult != nil {
			toolResults = append(toolResults, chunk.ToolResult)
		}
	}

	if len(toolResults) != 1 {
		t.Fatalf("got %d tool results, want 1", len(toolResults))
	}
	if toolResults[0].Content != "[redacted]" {
		t.Errorf("result content = %q, want %q", toolResults[0].Content, "[redacted]")
	}

	if len(store.messages) < 3 {
		t.Fatalf("got %d persisted messages, want at least 3", len(store.messages))
	}
	toolMsg := store.messages[2]
	if len(toolMsg.ToolResults) != 1 || toolMsg.ToolResults[0].Content != "[redacted]" {
		t.Errorf("persisted tool result = %+v, want redacted content", toolMsg.ToolResults)
	}
}

type redactingInterceptor struct {
	hooks.Base
}

func (redactingInterceptor) PostToolUse(_ hooks.PostToolUseContext, _ hooks.PostToolUseResult) hooks.PostToolUseResult {
	return hooks.ReplaceResult("[redacted]")
}

func TestAgenticLoop_HookOnStopAborts(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "final answer"}, {Done: true}},
		},
	}

	registry := NewToolRegistry()
	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())
	loop.SetHooks(hooks.Cons(stoppingOnStopInterceptor{reason: "turn rejected"}, nil))

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "hi"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var gotErr error
	for chunk := range ch {
		if chunk.Error != nil {
			gotErr = chunk.Error
		}
	}

	if gotErr == nil {
		t.Fatal("expected OnStop abort to surface as a loop error")
	}
	if !strings.Contains(gotErr.Error(), "turn rejected") {
		t.Errorf("error = %v, want it to mention stop reason", gotErr)
	}
}

type stoppingOnStopInterceptor struct {
	hooks.Base
	reason string
}

func (s stoppingOnStopInterceptor) OnStop(_ hooks.StopContext, _ string, _ bool) (string, bool) {
	return s.reason, true
}

func TestAgenticLoop_HookOnTextObservesChunks(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "hello "}, {Text: "world"}, {Done: true}},
		},
	}

	registry := NewToolRegistry()
	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())

	observer := &collectingTextInterceptor{}
	loop.SetHooks(hooks.Cons(observer, nil))

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

	got := strings.Join(observer.fragments, "")
	if got != "hello world" {
		t.Errorf("observed text = %q, want %q", got, "hello world")
	}
}

type collectingTextInterceptor struct {
	hooks.Base
	fragments []string
}

func (c *collectingTextInterceptor) OnText(fragment string) {
	c.fragments = append(c.fragments, fragment)
}

func TestAgenticLoop_CompactionTriggersOnSaturatedWindow(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "ok"}, {Done: true}},
		},
	}

	registry := NewToolRegistry()
	store := newLoopMemoryStore()
	// A long history, all well past PreserveRecent, so compaction has
	// something to drain.
	store.history = make([]*models.Message, 0, 20)
	for i := 0; i < 20; i++ {
		store.history = append(store.history, &models.Message{
			Role:    models.RoleUser,
			Content: strings.Repeat("word ", 200),
		})
	}

	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())

	outputStore, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	fast := &stubFastProviderForLoop{response: "summary of earlier turns\nREFERENCED_URLS: none"}
	cfg := compaction.DefaultConfig()
	cfg.PreserveRecent = 2
	cfg.MainContextWindow = 50
	cfg.FastContextWindow = 50
	cfg.TriggerRatio = 0.1
	pipeline := compaction.New(cfg, outputStore, fast)
	loop.SetCompaction(pipeline)

	session := &models.Session{ID: "session-1"}
	msg := &models.Message{Role: models.RoleUser, Content: "continue"}

	ch, err := loop.Run(context.Background(), session, msg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected error: %v", chunk.Error)
		}
	}

	if !fast.called {
		t.Fatal("expected compaction to call the fast summarizer")
	}
}

type stubFastProviderForLoop struct {
	response string
	called   bool
}

func (s *stubFastProviderForLoop) Summarize(ctx context.Context, prompt string) (string, error) {
	s.called = true
	return s.response, nil
}

func TestAgenticLoop_CompactionSkippedWhenNil(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "ok"}, {Done: true}},
		},
	}

	registry := NewToolRegistry()
	store := newLoopMemoryStore()
	loop := NewAgenticLoop(provider, registry, store, DefaultLoopConfig())

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
}
