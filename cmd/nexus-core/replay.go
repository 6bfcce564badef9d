package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func buildReplayCmd() *cobra.Command {
	var (
		speed    float64
		fromSeq  uint64
		toSeq    uint64
		filter   string
		showTime bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a JSONL trace file to stdout",
		Long: `Replay events from a JSONL trace file recorded by
agent.TracePlugin.

Speed control:
  --speed 0     Instant (default)
  --speed 1     Real-time
  --speed 2     2x speed
  --speed 0.5   Half speed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], speed, fromSeq, toSeq, filter, showTime)
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 0, "Replay speed (0=instant, 1=real-time, 2=2x)")
	cmd.Flags().Uint64Var(&fromSeq, "from", 0, "Start from sequence number")
	cmd.Flags().Uint64Var(&toSeq, "to", 0, "Stop at sequence number")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter events by type substring (e.g., 'tool', 'model')")
	cmd.Flags().BoolVar(&showTime, "time", false, "Show timestamps for each event")

	return cmd
}

func runReplay(cmd *cobra.Command, filePath string, speed float64, fromSeq, toSeq uint64, filter string, showTime bool) error {
	out := cmd.OutOrStdout()

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	reader, err := agent.NewTraceReader(f)
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	printSink := agent.NewCallbackSink(func(_ context.Context, e models.AgentEvent) {
		if filter != "" && !strings.Contains(string(e.Type), filter) {
			return
		}

		var prefix string
		if showTime {
			prefix = fmt.Sprintf("[%s] ", e.Time.Format("15:04:05.000"))
		}

		switch e.Type {
		case models.AgentEventRunStarted:
			fmt.Fprintf(out, "%s> Run started (run_id=%s)\n", prefix, e.RunID)

		case models.AgentEventRunFinished:
			fmt.Fprintf(out, "%s| Run finished\n", prefix)
			if e.Stats != nil && e.Stats.Run != nil {
				fmt.Fprintf(out, "  wall=%v iters=%d tools=%d\n",
					e.Stats.Run.WallTime, e.Stats.Run.Iters, e.Stats.Run.ToolCalls)
			}

		case models.AgentEventRunError:
			if e.Error != nil {
				fmt.Fprintf(out, "%sx Error: %s\n", prefix, e.Error.Message)
			}

		case models.AgentEventIterStarted:
			fmt.Fprintf(out, "%s-> Iteration %d started\n", prefix, e.IterIndex)

		case models.AgentEventIterFinished:
			fmt.Fprintf(out, "%s<- Iteration %d finished\n", prefix, e.IterIndex)

		case models.AgentEventToolStarted:
			if e.Tool != nil {
				fmt.Fprintf(out, "%s* Tool: %s (call_id=%s)\n", prefix, e.Tool.Name, e.Tool.CallID)
			}

		case models.AgentEventToolFinished:
			if e.Tool != nil {
				status := "+"
				if !e.Tool.Success {
					status = "-"
				}
				fmt.Fprintf(out, "%s  %s %s completed (%v)\n", prefix, status, e.Tool.Name, e.Tool.Elapsed)
			}

		case models.AgentEventModelDelta:
			if e.Stream != nil && e.Stream.Delta != "" {
				fmt.Fprint(out, e.Stream.Delta)
			}

		case models.AgentEventModelCompleted:
			fmt.Fprintln(out)
			if e.Stream != nil {
				fmt.Fprintf(out, "%s  [tokens: in=%d out=%d]\n",
					prefix, e.Stream.InputTokens, e.Stream.OutputTokens)
			}

		case models.AgentEventContextPacked:
			if e.Context != nil {
				fmt.Fprintf(out, "%sContext: %d/%d msgs, %d dropped\n",
					prefix, e.Context.UsedMessages, e.Context.BudgetMessages, e.Context.Dropped)
			}

		default:
			fmt.Fprintf(out, "%s  [%s] seq=%d\n", prefix, e.Type, e.Sequence)
		}
	})

	var opts []agent.ReplayOption
	if speed > 0 {
		opts = append(opts, agent.WithSpeed(speed))
	}
	if fromSeq > 0 || toSeq > 0 {
		opts = append(opts, agent.WithSequenceRange(fromSeq, toSeq))
	}

	replayer := agent.NewTraceReplayer(reader, printSink, opts...)

	fmt.Fprintf(out, "Replaying: %s\n", filePath)
	fmt.Fprintf(out, "Run ID: %s\n", reader.Header().RunID)
	fmt.Fprintln(out, strings.Repeat("-", 40))

	stats, err := replayer.Replay(cmd.Context())
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintf(out, "Replayed %d events\n", stats.EventCount)

	if !stats.Valid() {
		fmt.Fprintln(out, "Warnings:")
		for _, e := range stats.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}

	return nil
}
