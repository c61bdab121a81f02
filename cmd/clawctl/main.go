// ABOUTME: Entry point for clawctl, the clawhuddle command line client
// ABOUTME: Delegates to the cobra command tree in the cmd package

package main

import (
	"os"

	"github.com/2389/clawhuddle/cmd/clawctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
