// Command sysclaw is the natural-language assistant for the local operating system.
package main

import (
	"os"

	"github.com/KafClaw/sysclaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
