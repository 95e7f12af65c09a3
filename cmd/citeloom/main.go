// Package main provides the entry point for the citeloom CLI.
package main

import (
	"os"

	"github.com/citeloom/citeloom/cmd/citeloom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
