package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/cli/styles"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(styles.FormatKeyValue("version", version))
			fmt.Println(styles.FormatKeyValue("commit", commit))
			fmt.Println(styles.FormatKeyValue("built", buildDate))
		},
	}
}
