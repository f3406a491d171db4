package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/strandhq/strand/adapters"
	"github.com/strandhq/strand/adapters/memory"
	"github.com/strandhq/strand/adapters/postgres"
	"github.com/strandhq/strand/adapters/sqlite"
	"github.com/strandhq/strand/cli/config"
)

// loadConfigOrDefault loads the nearest strand.yaml, falling back to defaults
// when none exists.
func loadConfigOrDefault() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	dir, cfg, err := config.FindConfig(cwd)
	if err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), "", nil
		}
		return nil, "", err
	}
	return cfg, dir, nil
}

// openStore constructs a data store from the configuration. The caller owns
// the returned store and must close it.
func openStore(cfg *config.Config) (adapters.DataStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.Open(cfg.Store.Path)
	case "postgres":
		url := expandEnv(cfg.Store.URL)
		if url == "" {
			return nil, fmt.Errorf("store.url is not set (configure strand.yaml or DATABASE_URL)")
		}
		opts := []postgres.Option{}
		if cfg.Store.Schema != "" {
			opts = append(opts, postgres.WithSchema(cfg.Store.Schema))
		}
		return postgres.NewStore(url, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// expandEnv resolves ${VAR} placeholders in config values.
func expandEnv(value string) string {
	if strings.Contains(value, "${") {
		return os.ExpandEnv(value)
	}
	return value
}
