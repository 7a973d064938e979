// Package main is the mnemo command: the worker service plus a few
// maintenance and query commands over the same database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/vector"
	"github.com/thebtf/mnemo/internal/vector/chroma"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	debug  bool
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:           "mnemo",
	Short:         "Persistent memory store with hybrid search",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mnemo version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: settings or ~/.mnemo/mnemo.db)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig prepares the data directory and reads settings, applying
// command-line overrides.
func loadConfig() (*config.Config, error) {
	if err := config.EnsureAll(); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// openStore opens the database; migrations run as part of opening.
func openStore(cfg *config.Config) (*sqlite.Store, error) {
	return sqlite.NewStore(sqlite.StoreConfig{
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
}

// connectVector starts the semantic backend when enabled. A backend that is
// unreachable at startup still yields a client; it reports itself
// disconnected and search runs on the lexical index until it comes up.
func connectVector(ctx context.Context, cfg *config.Config) (*chroma.Client, func()) {
	if !cfg.ChromaEnabled {
		return nil, func() {}
	}
	client := chroma.NewClient(chroma.Config{
		Command:    cfg.ChromaCommand,
		Args:       cfg.ChromaArgs,
		Collection: cfg.ChromaCollection,
	})
	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("ChromaDB unavailable, using lexical search until it reconnects")
	}
	return client, func() { _ = client.Close() }
}

// vectorClient converts an optional backend into the interface the worker
// and search take, keeping a disabled backend a true nil.
func vectorClient(client *chroma.Client) vector.Client {
	if client == nil {
		return nil
	}
	return client
}
