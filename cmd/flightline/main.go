// Package main is the entry point for the flightline CLI.
package main

import (
	"os"

	"github.com/flightline/flightline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
