package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/lucai/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Re-exec when the binary changes on disk.
	if os.Getenv("LUCAI_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
