package agent

import (
	"fmt"

	"github.com/haasonsaas/nexus-core/internal/bashtool"
)

// BackgroundJobSource drains a bash tool's background-completion channel.
// *bashtool.BashTool satisfies this directly; it's the hook the loop uses
// to implement spec §4.9's "drain background channel into memory as
// system messages" and the post-loop MAX_WAIT poll (scenario S3).
type BackgroundJobSource interface {
	TakeCompleted() []bashtool.CompletedTask
	HasPendingTasks() bool
}

// formatCompletedTask renders a finished background task as the system
// message text injected into the conversation, describing the
// script/stdout/exit_code/stderr per scenario S3.
func formatCompletedTask(task bashtool.CompletedTask) string {
	if task.Err != nil {
		return fmt.Sprintf("Background task %s finished: script=%q error=%v", task.TaskID, task.Script, task.Err)
	}
	stderr := ""
	if task.Result.Stderr != nil {
		stderr = task.Result.Stderr.String()
	}
	return fmt.Sprintf("Background task %s finished: script=%q exit_code=%d stdout=%q stderr=%q",
		task.TaskID, task.Script, task.Result.ExitCode, task.Result.Stdout.String(), stderr)
}
