// Package main is the entry point for the duck-expect CLI binary.
package main

import (
	"os"

	"duck-expect/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
