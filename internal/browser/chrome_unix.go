//go:build !windows

package browser

import (
	"os/exec"
	"syscall"
)

// setChromeProcessGroup puts Chrome in its own process group so the
// renderer and GPU children share a PGID and die with it.
func setChromeProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killChromeProcessGroup force-kills the whole Chrome process group.
func killChromeProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// Negative PID targets the entire process group.
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
