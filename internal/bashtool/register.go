package bashtool

import "github.com/haasonsaas/nexus-core/internal/toolregistry"

const helpText = `Execute a bash script. Returns immediately with a task_id if timeout is 0
or the script is still running after timeout seconds; otherwise returns the
completed stdout/stderr/exit_code.`

// Register wires this BashTool into reg as the single "bash" command,
// the Go analogue of the original's type-erased (definition, handler) pair
// used when building a sub-agent's tool set: reg only ever sees Args/Result,
// never the BashTool itself.
func (t *BashTool) Register(reg *toolregistry.Registry) error {
	return toolregistry.ConfigureTool[Args](reg, "bash", helpText, t.Call)
}
