package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/agent/providers"
	"github.com/haasonsaas/nexus-core/internal/bashtool"
	"github.com/haasonsaas/nexus-core/internal/jobs"
	"github.com/haasonsaas/nexus-core/internal/sessions"
	"github.com/haasonsaas/nexus-core/internal/toolregistry"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var workingDir string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt through the agent loop",
		Long: `Run a single prompt through the agentic loop, streaming the
response to stdout. With no prompt argument, reads the prompt from stdin.

The loop is backed by a single sandboxed bash tool. Set ANTHROPIC_API_KEY
or OPENAI_API_KEY to select the provider.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := resolvePrompt(cmd, args)
			if err != nil {
				return err
			}
			return runPrompt(cmd, prompt, workingDir)
		},
	}

	cmd.Flags().StringVar(&workingDir, "dir", ".", "Working directory for the bash tool")
	return cmd
}

func resolvePrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	var b strings.Builder
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(b.String())
	if prompt == "" {
		return "", fmt.Errorf("no prompt given: pass one as an argument or pipe it on stdin")
	}
	return prompt, nil
}

func runPrompt(cmd *cobra.Command, prompt, workingDir string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	logger := slog.Default()

	provider, err := selectProvider()
	if err != nil {
		return err
	}

	jobsRegistry, jobsService := jobs.NewService(logger)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go jobsService.Serve(serveCtx)

	bash, err := bashtool.New(workingDir, bashtool.DefaultPolicy(), jobsRegistry, logger)
	if err != nil {
		return fmt.Errorf("failed to create bash tool: %w", err)
	}

	ipcRegistry := toolregistry.New()
	if err := bash.Register(ipcRegistry); err != nil {
		return fmt.Errorf("failed to register bash tool: %w", err)
	}

	adapter, err := newBashToolAdapter(ipcRegistry, "bash")
	if err != nil {
		return err
	}

	todos := agent.NewTodoManager()

	toolRegistry := agent.NewToolRegistry()
	toolRegistry.Register(adapter)
	toolRegistry.Register(todos.Tool(""))

	store := sessions.NewMemoryStore()
	loopConfig := agent.DefaultLoopConfig()
	loopConfig.BackgroundJobs = bash
	loopConfig.Todos = todos
	loop := agent.NewAgenticLoop(provider, toolRegistry, store, loopConfig)

	session := &models.Session{ID: uuid.NewString()}
	msg := &models.Message{Role: models.RoleUser, Content: prompt}

	chunks, err := loop.Run(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	streamOpen := false
	for chunk := range chunks {
		if chunk.Error != nil {
			if streamOpen {
				fmt.Fprintln(out)
				streamOpen = false
			}
			return fmt.Errorf("run failed: %w", chunk.Error)
		}
		if chunk.Thinking != "" {
			fmt.Fprintf(out, "[thinking] %s", chunk.Thinking)
			streamOpen = true
		}
		if chunk.Text != "" {
			fmt.Fprint(out, chunk.Text)
			streamOpen = true
		}
		if chunk.ToolResult != nil {
			if streamOpen {
				fmt.Fprintln(out)
				streamOpen = false
			}
			status := "ok"
			if chunk.ToolResult.IsError {
				status = "error"
			}
			fmt.Fprintf(out, "[tool %s] %s\n", status, chunk.ToolResult.Content)
		}
	}
	if streamOpen {
		fmt.Fprintln(out)
	}
	return nil
}

func selectProvider() (agent.LLMProvider, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     key,
			MaxRetries: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		return provider, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return providers.NewOpenAIProvider(key), nil
	}
	return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}
