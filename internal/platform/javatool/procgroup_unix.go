//go:build unix

package javatool

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts cmd in its own process group and makes
// cancellation kill the entire group, including JVM children.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
