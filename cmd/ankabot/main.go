// Package main is the entry point for the ankabot CLI.
package main

import (
	"os"

	"github.com/mischamarty/ankabot/cmd/ankabot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
