package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/runghost/internal/config"
	"github.com/kurihiro0119/runghost/internal/logger"
)

var (
	port    int
	host    string
	dataDir string
	theme   string
	verbose bool
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "runghost",
	Short: "Multi-identity GitHub dashboard",
	Long: `runghost serves a local dashboard over several GitHub accounts.

It caches identities, repositories, issues, pull requests, releases and
branches in a local store, audits every outbound call, and links local
workspace packages with their published registry packages.`,
	SilenceUsage: true,
	RunE:         runStart,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .runghost/config.yaml in the current directory",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import a legacy cache.json into the store",
	Long: `Import <dataDir>/cache.json into the store when the store is empty.
The snapshot is renamed to cache.json.backup afterwards, or deleted with --delete.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dashboard server",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cache status of a running dashboard",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&port, "port", 0, "server port (default from config, 3000)")
	flags.StringVar(&host, "host", "", "server host (default from config, localhost)")
	flags.StringVar(&dataDir, "data-dir", "", "data directory (default from config)")
	flags.StringVar(&theme, "theme", "", "dashboard theme")
	flags.BoolVar(&verbose, "verbose", false, "enable info logging")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	migrateCmd.Flags().Bool("backup", true, "rename cache.json to cache.json.backup after migrating")
	migrateCmd.Flags().Bool("delete", false, "delete cache.json after migrating")
	migrateCmd.MarkFlagsMutuallyExclusive("backup", "delete")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// overrides collects the persistent flags the user actually set
func overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("port") {
		o.Port = &port
	}
	if flags.Changed("host") {
		o.Host = &host
	}
	if flags.Changed("data-dir") {
		o.DataDir = &dataDir
	}
	if flags.Changed("theme") {
		o.Theme = &theme
	}
	if flags.Changed("verbose") {
		o.Verbose = &verbose
	}
	if flags.Changed("debug") {
		o.Debug = &debug
	}
	return o
}

// loadConfig requires ./.runghost, loads the merged configuration and sets
// the log level, defaulting to base.
func loadConfig(cmd *cobra.Command, base slog.Level) (*config.Config, error) {
	logger.Setup(logger.LevelFor(verbose, debug, base))

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := config.RequireProjectDir(cwd); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cwd, overrides(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.ProgramLevel.Set(logger.LevelFor(cfg.Verbose, cfg.Debug, base))
	return cfg, nil
}
