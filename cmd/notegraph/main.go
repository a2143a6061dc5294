// Package main provides the entry point for the notegraph CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/notegraph/cmd/notegraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
