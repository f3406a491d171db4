// Package commands provides the CLI command implementations for strand.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/cli/styles"
	"github.com/strandhq/strand/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the strand CLI.
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Event-sourcing domain layer for Go",
		Long: ui.Banner() + `

Strand persists immutable domain events per stream, materializes
aggregate snapshots, and enforces sequence-based optimistic concurrency.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("strand init") + `           Initialize a project config
  ` + styles.Code.Render("strand schema print") + `   Show the storage schema
  ` + styles.Code.Render("strand ping") + `           Check store connectivity
  ` + styles.Code.Render("strand events list") + `    Inspect a stream`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewPingCommand())
	rootCmd.AddCommand(NewEventsCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
