// Package main provides the entry point for the mirror-explorer CLI.
package main

import (
	"github.com/colthorp/mirror-explorer-go/internal/cli"
)

func main() {
	cli.Execute()
}
