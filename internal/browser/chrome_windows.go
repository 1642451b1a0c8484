//go:build windows

package browser

import (
	"os/exec"
)

// setChromeProcessGroup is a no-op on Windows, which has no Unix
// process groups.
func setChromeProcessGroup(cmd *exec.Cmd) {}

// killChromeProcessGroup kills the main Chrome process and relies on
// Chrome's own cleanup for its children.
func killChromeProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
