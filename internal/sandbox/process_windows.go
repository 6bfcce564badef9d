//go:build windows

package sandbox

import (
	"os/exec"
	"strconv"
)

// setProcessGroup is a no-op on Windows; killProcessGroup uses taskkill's
// tree-kill facility instead of a POSIX process group.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup delegates to taskkill /T /F, which terminates the
// process and its descendants by PID tree.
func killProcessGroup(cmd *exec.Cmd) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}
