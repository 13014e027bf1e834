package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYGATE_DATA_DIR env var, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keygate"
}

// openStore opens the credential store configured via keygate.yaml or
// environment variables, defaulting to the SQLite store under the data
// directory.
func openStore() (*store.Store, error) {
	cfg := store.Config{
		Driver:  viper.GetString("store.driver"),
		DSN:     viper.GetString("store.dsn"),
		DataDir: viper.GetString("store.data_dir"),
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver == "sqlite" && cfg.DataDir == "" {
		cfg.DataDir = resolveDataDir()
	}
	return store.Open(cfg)
}

// newCLILogger builds the quiet logger used by one-shot commands.
func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
