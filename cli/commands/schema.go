package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandhq/strand/adapters/postgres"
	"github.com/strandhq/strand/adapters/sqlite"
	"github.com/strandhq/strand/cli/config"
	"github.com/strandhq/strand/cli/styles"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the storage schema",
		Long: `Generate and inspect the data store schema.

Examples:
  strand schema print            # Print the schema DDL
  strand schema generate -o f.sql  # Write the DDL to a file
  strand schema apply            # Create schema objects in the store`,
	}

	cmd.AddCommand(newSchemaPrintCommand())
	cmd.AddCommand(newSchemaGenerateCommand())
	cmd.AddCommand(newSchemaApplyCommand())

	return cmd
}

func newSchemaPrintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the storage schema DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			ddl, err := schemaDDL(cfg)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconDatabase + " Storage Schema (" + cfg.Store.Driver + ")"))
			fmt.Println(ddl)
			return nil
		},
	}
}

func newSchemaGenerateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the storage schema DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			ddl, err := schemaDDL(cfg)
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(ddl), 0644); err != nil {
					return err
				}
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("Schema written to %s", output)))
			} else {
				fmt.Println(ddl)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func newSchemaApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Create schema objects in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			switch cfg.Store.Driver {
			case "postgres":
				url := expandEnv(cfg.Store.URL)
				opts := []postgres.Option{}
				if cfg.Store.Schema != "" {
					opts = append(opts, postgres.WithSchema(cfg.Store.Schema))
				}
				store, err := postgres.NewStore(url, opts...)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Initialize(cmd.Context()); err != nil {
					return err
				}
			case "sqlite":
				// Open creates the tables as a side effect.
				store, err := sqlite.Open(cfg.Store.Path)
				if err != nil {
					return err
				}
				defer store.Close()
			case "memory":
				fmt.Println(styles.FormatInfo("memory driver needs no schema"))
				return nil
			default:
				return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
			}

			fmt.Println(styles.FormatSuccess("Schema applied"))
			return nil
		},
	}
}

// schemaDDL returns the driver's schema statements as one SQL script.
func schemaDDL(cfg *config.Config) (string, error) {
	switch cfg.Store.Driver {
	case "postgres":
		schema := cfg.Store.Schema
		if schema == "" {
			schema = "strand"
		}
		store := postgres.NewStoreWithDB(nil, postgres.WithSchema(schema))
		return joinStatements(store.SchemaStatements()), nil
	case "sqlite":
		return joinStatements(sqlite.SchemaStatements()), nil
	case "memory":
		return "-- memory driver needs no schema\n", nil
	default:
		return "", fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func joinStatements(statements []string) string {
	var b strings.Builder
	for _, stmt := range statements {
		b.WriteString(strings.TrimSpace(stmt))
		b.WriteString(";\n\n")
	}
	return b.String()
}
