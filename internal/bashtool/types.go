package bashtool

import "github.com/haasonsaas/nexus-core/internal/output"

// Args are the bash tool's arguments, per spec §4.5.
type Args struct {
	ShellID string        `json:"shell_id" jsonschema:"description=Active shell session id returned by open_shell; empty to auto-open a default session."`
	Script  string        `json:"script" jsonschema:"required,description=The bash script to execute."`
	Expect  output.Format `json:"expect,omitempty" jsonschema:"description=Expected output format: text (default), image, video, binary, or auto."`
	Timeout uint64        `json:"timeout" jsonschema:"description=Per-command timeout in seconds. 0 starts the script in the background immediately."`
}

// Result is the bash tool's JSON result. TaskID/Status are only present
// for a still-running background task; a completed execution carries
// ExitCode/Stdout/Stderr instead.
type Result struct {
	Stdout   output.OutputEntry  `json:"stdout"`
	Stderr   *output.OutputEntry `json:"stderr,omitempty"`
	ExitCode int                 `json:"exit_code"`
	TaskID   string              `json:"task_id,omitempty"`
	Status   string              `json:"status,omitempty"`
}

func runningResult(taskID string) Result {
	return Result{
		Stdout:   output.EmptyEntry(),
		ExitCode: 0,
		TaskID:   taskID,
		Status:   "running",
	}
}

// CompletedTask is delivered over a BashTool's background channel when a
// backgrounded or timed-out script finishes.
type CompletedTask struct {
	TaskID string
	Script string
	Result Result
	Err    error
}
