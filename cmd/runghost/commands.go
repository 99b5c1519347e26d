package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/runghost/internal/app"
	"github.com/kurihiro0119/runghost/internal/config"
	"github.com/kurihiro0119/runghost/internal/logger"
	"github.com/kurihiro0119/runghost/internal/migration"
	"github.com/kurihiro0119/runghost/pkg/client"
)

func runInit(cmd *cobra.Command, args []string) error {
	logger.Setup(logger.LevelFor(verbose, debug, slog.LevelWarn))

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	path, created, err := config.WriteDefault(cwd)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("Configuration already exists at %s\n", path)
		return nil
	}

	cfg, err := config.Load(cwd, overrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Printf("Data directory: %s\n", cfg.DataDir())
	fmt.Println("Add your identities to the config file, then run 'runghost start'.")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, slog.LevelWarn)
	if err != nil {
		return err
	}

	fmt.Println("\nSettings")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Setting", "Value"})
	table.Append([]string{"Host", cfg.Host})
	table.Append([]string{"Port", strconv.Itoa(cfg.Port)})
	table.Append([]string{"Data Directory", cfg.DataDir()})
	table.Append([]string{"Database", databaseLabel(cfg)})
	table.Append([]string{"Theme", cfg.Theme})
	table.Append([]string{"Items Per Page", strconv.Itoa(cfg.ItemsPerPage)})
	table.Append([]string{"Refresh Interval", fmt.Sprintf("%ds", cfg.RefreshInterval)})
	table.Append([]string{"User Agent", cfg.GitHub.UserAgent})
	table.Append([]string{"Max Retries", strconv.Itoa(cfg.GitHub.MaxRetries)})
	table.Append([]string{"Retry Delay", fmt.Sprintf("%dms", cfg.GitHub.RetryDelay)})
	table.Render()

	fmt.Println("\nIdentities")
	identities := tablewriter.NewWriter(os.Stdout)
	identities.SetHeader([]string{"ID", "Name", "Username", "Token", "Scopes", "Workspaces"})
	for _, ident := range cfg.IdentityList() {
		identities.Append([]string{
			ident.ID,
			ident.Name,
			ident.Username,
			maskToken(ident.Token),
			strings.Join(ident.NormalizedScopes(), ", "),
			strings.Join(ident.Workspaces, ", "),
		})
	}
	identities.Render()

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nWarning: %v\n", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, slog.LevelWarn)
	if err != nil {
		return err
	}
	del, _ := cmd.Flags().GetBool("delete")

	a := app.New(cfg)
	defer a.Close()
	store, err := a.Store()
	if err != nil {
		return err
	}

	res := migration.Migrate(cmd.Context(), cfg.DataDir(), store, migration.Options{Delete: del})
	printMigration(res)
	if !res.Success {
		return fmt.Errorf("migration failed: %s", res.Message)
	}
	return nil
}

func printMigration(res migration.Result) {
	fmt.Println(res.Message)
	if res.IdentitiesMigrated == 0 && res.RepositoriesMigrated == 0 && len(res.Errors) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Identities", strconv.Itoa(res.IdentitiesMigrated)})
	table.Append([]string{"Repositories", strconv.Itoa(res.RepositoriesMigrated)})
	table.Append([]string{"Errors", strconv.Itoa(len(res.Errors))})
	if res.BackupPath != "" {
		table.Append([]string{"Backup", res.BackupPath})
	}
	table.Render()

	for _, e := range res.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, slog.LevelWarn)
	if err != nil {
		return err
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	c := client.NewClient(baseURL)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("dashboard not reachable at %s: %w", baseURL, err)
	}
	status, err := c.GetCacheStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache status: %w", err)
	}

	fmt.Printf("\nCache Status: %s (%s)\n\n", status.Backend, status.Location)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Table", "Total", "Live"})
	for _, t := range status.Tables {
		table.Append([]string{
			t.Table,
			strconv.FormatInt(t.Total, 10),
			strconv.FormatInt(t.Live, 10),
		})
	}
	table.SetFooter([]string{"Total", strconv.FormatInt(status.TotalEntries, 10), strconv.FormatInt(status.LiveEntries, 10)})
	table.Render()
	return nil
}

func databaseLabel(cfg *config.Config) string {
	if cfg.Database.URL == "" {
		return "sqlite (local)"
	}
	return "postgres (remote)"
}

// maskToken keeps the last four characters of a token
func maskToken(token string) string {
	switch {
	case token == "":
		return "(missing)"
	case len(token) <= 4:
		return "****"
	default:
		return "****" + token[len(token)-4:]
	}
}
