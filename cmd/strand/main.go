// strand is the command-line interface for the strand event-sourcing library.
//
// Usage:
//
//	strand <command> [flags]
//
// Commands:
//
//	init        Initialize a project config
//	schema      Generate and apply the storage schema
//	ping        Check data store connectivity
//	events      Inspect event streams
//	version     Show version information
package main

import (
	"os"

	"github.com/strandhq/strand/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
