package agent

import (
	"context"

	"github.com/haasonsaas/nexus-core/internal/agent/memory"
	ctxwindow "github.com/haasonsaas/nexus-core/internal/context"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// maybeCompress runs once per new prompt, before the turn's iteration loop
// starts, per spec §4.9's maybe_compress() and §5's ordering guarantee
// that compression never overlaps a turn's provider requests. It's a
// best-effort step: a nil Compaction pipeline, an under-threshold history,
// or a failed summarization all leave state.Messages untouched.
func (l *AgenticLoop) maybeCompress(ctx context.Context, state *LoopState) {
	if l.config.Compaction == nil || len(state.Messages) == 0 {
		return
	}

	contents := make([]string, len(state.Messages))
	for i, m := range state.Messages {
		contents[i] = m.Content
	}
	estimated := ctxwindow.EstimateTokensForMessages(contents)
	if !l.config.Compaction.ShouldCompress(estimated) {
		return
	}

	mem := memory.NewContext()
	for i := range state.Messages {
		mem.Push(completionToModelMessage(&state.Messages[i]))
	}

	result, err := l.config.Compaction.Run(ctx, mem)
	if err != nil || result == nil || !result.Compressed {
		return
	}

	rebuilt := mem.All()
	messages := make([]CompletionMessage, len(rebuilt))
	for i, m := range rebuilt {
		messages[i] = modelMessageToCompletion(m)
	}
	state.Messages = messages
}

func completionToModelMessage(m *CompletionMessage) *models.Message {
	return &models.Message{
		Role:        models.Role(m.Role),
		Content:     m.Content,
		ToolCalls:   m.ToolCalls,
		ToolResults: m.ToolResults,
		Attachments: m.Attachments,
	}
}

func modelMessageToCompletion(m *models.Message) CompletionMessage {
	if m == nil {
		return CompletionMessage{}
	}
	return CompletionMessage{
		Role:        string(m.Role),
		Content:     m.Content,
		ToolCalls:   m.ToolCalls,
		ToolResults: m.ToolResults,
		Attachments: m.Attachments,
	}
}
