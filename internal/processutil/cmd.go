// Package processutil holds helpers shared by every component that shells
// out to ffmpeg or ffprobe.
package processutil

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
)

const noStderr = "no stderr output"

// CommandContext is exec.CommandContext with the platform console tweaks applied.
func CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	hideConsoleWindow(cmd)
	return cmd
}

// TailBuffer is a goroutine-safe writer that keeps child process stderr so
// the last few hundred bytes can be attached to errors.
type TailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Tail returns at most the last n bytes written, trimmed.
func (b *TailBuffer) Tail(n int) string {
	if b == nil {
		return noStderr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Tail(b.buf.String(), n)
}

// Tail trims input and returns at most its last max bytes.
func Tail(input string, max int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return noStderr
	}
	if max <= 0 || len(input) <= max {
		return input
	}
	return input[len(input)-max:]
}
