// Package main provides the entry point for the essaysearch CLI.
package main

import (
	"os"

	"github.com/james-andrews-coulter/essay-search-engine/cmd/essaysearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
