//go:build !windows

package browser

import (
	"os/exec"
	"syscall"
)

// setChromeProcessGroup puts the browser in its own process group so
// renderer and GPU children can be killed together on shutdown.
func setChromeProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killChromeProcessGroup signals the entire browser process group.
// force=false sends SIGTERM, force=true sends SIGKILL.
func killChromeProcessGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	// Negative PID targets the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}
