//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group, so terminal
// signals reach only the supervisor, and asks the kernel to SIGTERM the child
// if the supervisor dies first.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
