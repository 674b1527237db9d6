// Package logging builds the process-wide slog logger. GIFCAST_DEBUG=1 turns
// on debug records and GIFCAST_DEBUG_FILE sends them to a file instead of
// stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	debugEnv     = "GIFCAST_DEBUG"
	debugFileEnv = "GIFCAST_DEBUG_FILE"
)

var (
	outputOnce sync.Once
	output     io.Writer = os.Stderr
)

// DebugEnabled reports whether GIFCAST_DEBUG is set to 1.
func DebugEnabled() bool {
	return strings.TrimSpace(os.Getenv(debugEnv)) == "1"
}

func envOutput() io.Writer {
	outputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv(debugFileEnv))
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "gifcast debug log open failed: %v\n", err)
			return
		}
		output = f
	})
	return output
}

// New returns a text logger configured from the environment.
func New() *slog.Logger {
	level := slog.LevelInfo
	if DebugEnabled() {
		level = slog.LevelDebug
	}
	return NewWithWriter(envOutput(), level)
}

func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
