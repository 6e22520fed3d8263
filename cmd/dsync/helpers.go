package main

import (
	"fmt"
	"os"

	dsync "github.com/dsync-im/dsync-go"
	"github.com/rs/zerolog"
)

// requireConfig loads the config and exits when the CLI is not initialized.
func requireConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" || cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not configured. Run 'dsync init <server-url> <token>' first.")
		os.Exit(1)
	}
	return cfg
}

// newClient creates a DSync API client from the stored configuration.
func newClient(cfg *Config) *dsync.Client {
	return dsync.NewClient(cfg.Default.BaseURL, dsync.WithToken(cfg.Auth.Token))
}

// newEngine wires a sync engine over the configured client, identity, and
// optional sqlite snapshot cache.
func newEngine(cfg *Config) (*dsync.Engine, error) {
	if cfg.Auth.UserID == "" {
		return nil, fmt.Errorf("no acting user configured; run 'dsync config set auth.user_id <id>'")
	}
	identity := dsync.StaticIdentity{
		ID:     cfg.Auth.UserID,
		Name:   cfg.Auth.UserName,
		Avatar: cfg.Auth.UserAvatar,
	}

	opts := []dsync.EngineOption{dsync.WithLogger(cliLogger())}
	if cfg.Default.CachePath != "" {
		cache, err := dsync.NewSQLiteCache(cfg.Default.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot cache: %w", err)
		}
		opts = append(opts, dsync.WithCache(cache))
	}

	return dsync.NewEngine(newClient(cfg), identity, opts...), nil
}

// cliLogger returns a console logger honoring DSYNC_DEBUG.
func cliLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if os.Getenv("DSYNC_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
