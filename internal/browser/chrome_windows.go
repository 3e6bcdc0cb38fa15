//go:build windows

package browser

import (
	"os"
	"os/exec"
)

// setChromeProcessGroup is a no-op on Windows; there are no Unix
// process groups to configure.
func setChromeProcessGroup(cmd *exec.Cmd) {
}

// killChromeProcessGroup kills the main browser process and relies on
// the browser's own cleanup for children.
func killChromeProcessGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	if force {
		_ = cmd.Process.Kill()
	} else {
		_ = cmd.Process.Signal(os.Interrupt)
	}
}
