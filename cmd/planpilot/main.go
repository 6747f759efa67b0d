package main

import (
	"fmt"
	"os"

	"github.com/rahul/planpilot/cmd/planpilot/commands"
	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(clierr.ExitCodeOf(err))
	}
}
