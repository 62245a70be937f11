// Package main provides the entry point for the agentcore CLI: the
// cobra-based multi-mode binary (spec §6 boundary modes), as opposed to
// cmd/agentcore-server's flag-based pure-HTTP-server binary.
package main

import (
	"fmt"
	"os"

	"github.com/agentcore-ai/agentcore/cmd/agentcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
