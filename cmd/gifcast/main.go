// Command gifcast records a screen, window or VNC desktop to WebM and turns
// the recording into an animated GIF.
package main

import (
	"fmt"
	"os"

	"go2tv.app/gifcast/config"
	"go2tv.app/gifcast/internal/logging"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := newCLIApp(newApp(cfg, logging.New(), os.Stdout))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
