package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/cli/styles"
	"github.com/strandhq/strand/cli/ui"
)

// NewPingCommand creates the ping command.
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check data store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			start := time.Now()
			if err := store.Ping(cmd.Context()); err != nil {
				fmt.Println(ui.StatusBadge("down"))
				return err
			}

			fmt.Println(ui.StatusBadge("ok"))
			fmt.Println(styles.FormatKeyValue("driver", cfg.Store.Driver))
			fmt.Println(styles.FormatKeyValue("latency", time.Since(start).String()))
			return nil
		},
	}
}
