// Package main is the entry point for the joigov CLI.
package main

import (
	"os"

	"github.com/itellico/joi-sub010/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
