package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/cli/config"
	"github.com/strandhq/strand/cli/styles"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var driver string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a strand project config",
		Long: `Write a strand.yaml configuration file in the current directory.

Examples:
  strand init                    # Postgres-backed config
  strand init --driver sqlite    # SQLite-backed config
  strand init --driver memory    # In-memory config (development)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			if config.Exists(cwd) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.ConfigFileName)
			}

			cfg := config.DefaultConfig()
			cfg.Store.Driver = driver
			switch driver {
			case "postgres":
				cfg.Store.URL = "${DATABASE_URL}"
			case "sqlite":
				cfg.Store.Path = "strand.db"
				cfg.Store.Schema = ""
			case "memory":
				cfg.Store.Schema = ""
			default:
				return fmt.Errorf("unknown driver %q (postgres, sqlite, memory)", driver)
			}

			if err := cfg.Save(cwd); err != nil {
				return err
			}

			fmt.Println(styles.FormatSuccess(fmt.Sprintf("Wrote %s (driver: %s)", config.ConfigFileName, driver)))
			return nil
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "postgres", "Storage driver (postgres, sqlite, memory)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}
