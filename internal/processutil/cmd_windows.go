//go:build windows

package processutil

import (
	"os/exec"
	"syscall"
)

// hideConsoleWindow prevents an attached console window from flashing when
// ffmpeg or ffprobe is launched from a GUI host on Windows.
func hideConsoleWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
