package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/toolregistry"
)

// bashToolAdapter bridges an internal/toolregistry.Registry command onto the
// internal/agent.Tool interface the agentic loop consumes. The two
// abstractions serve different layers of the runtime (toolregistry is the
// IPC command surface the sandboxed bash tool registers itself into;
// agent.Tool is the in-process interface AgenticLoop dispatches against) and
// nothing else in the module bridges them, so the CLI does it once here
// rather than teaching either package about the other.
type bashToolAdapter struct {
	reg  *toolregistry.Registry
	name string
}

// newBashToolAdapter wraps the named command already registered on reg.
func newBashToolAdapter(reg *toolregistry.Registry, name string) (*bashToolAdapter, error) {
	if _, ok := reg.Get(name); !ok {
		return nil, fmt.Errorf("nexus-core: command %q not registered", name)
	}
	return &bashToolAdapter{reg: reg, name: name}, nil
}

func (a *bashToolAdapter) Name() string {
	return a.name
}

func (a *bashToolAdapter) Description() string {
	cmd, ok := a.reg.Get(a.name)
	if !ok {
		return ""
	}
	return cmd.Help
}

func (a *bashToolAdapter) Schema() json.RawMessage {
	cmd, ok := a.reg.Get(a.name)
	if !ok || cmd.Schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	data, err := json.Marshal(cmd.Schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// Execute unmarshals params into the map[string]any toolregistry.Dispatch
// expects and folds a dispatch error into an error-flagged ToolResult rather
// than a Go error, matching how the loop's other tools surface failures.
func (a *bashToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return &agent.ToolResult{
				Content: fmt.Sprintf("invalid arguments: %v", err),
				IsError: true,
			}, nil
		}
	}

	output, err := a.reg.Dispatch(ctx, a.name, args)
	if err != nil {
		return &agent.ToolResult{
			Content: err.Error(),
			IsError: true,
		}, nil
	}

	return &agent.ToolResult{Content: output}, nil
}
