//go:build !windows

package processutil

import "os/exec"

func hideConsoleWindow(cmd *exec.Cmd) {}
