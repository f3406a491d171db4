package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/adapters"
	"github.com/strandhq/strand/cli/styles"
	"github.com/strandhq/strand/cli/ui"
)

// NewEventsCommand creates the events command.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect event streams",
		Long: `Inspect the events stored in a stream.

Examples:
  strand events list order-123
  strand events list order-123 --from 10 --to 20
  strand events list order-123 --type "OrderPlaced|v:1"
  strand events latest order-123`,
	}

	cmd.AddCommand(newEventsListCommand())
	cmd.AddCommand(newEventsLatestCommand())

	return cmd
}

func newEventsListCommand() *cobra.Command {
	var from, to int64
	var types []string

	cmd := &cobra.Command{
		Use:   "list <stream-id>",
		Short: "List events in a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := args[0]

			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			filter := adapters.TypeFilter(types)

			var records []adapters.EventRecord
			switch {
			case from > 0 && to > 0:
				records, err = store.GetEventsBetweenSequences(ctx, streamID, from, to, filter)
			case from > 0:
				records, err = store.GetEventsFromSequence(ctx, streamID, from, filter)
			case to > 0:
				records, err = store.GetEventsUpToSequence(ctx, streamID, to, filter)
			default:
				records, err = store.GetEvents(ctx, streamID, filter)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println(styles.FormatInfo(fmt.Sprintf("stream %q has no matching events", streamID)))
				return nil
			}

			table := ui.NewTable("SEQ", "TYPE", "CREATED AT", "CREATED BY", "BYTES")
			for _, r := range records {
				createdBy := r.CreatedBy
				if createdBy == "" {
					createdBy = "-"
				}
				table.AddRow(
					strconv.FormatInt(r.Sequence, 10),
					r.TypeKey,
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					createdBy,
					strconv.Itoa(len(r.Payload)),
				)
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconStream + " " + streamID))
			fmt.Println(table.Render())
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Lowest sequence to include")
	cmd.Flags().Int64Var(&to, "to", 0, "Highest sequence to include")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Restrict to type keys (repeatable)")

	return cmd
}

func newEventsLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <stream-id>",
		Short: "Show the stream's latest sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := args[0]

			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			seq, err := store.GetLatestSequence(cmd.Context(), streamID)
			if err != nil {
				return err
			}

			fmt.Println(styles.FormatKeyValue("stream", streamID))
			fmt.Println(styles.FormatKeyValue("latest sequence", strconv.FormatInt(seq, 10)))
			return nil
		},
	}
}
