// Command fieldops runs the field operations backend and its maintenance
// commands.
//
//	@title			Field Operations API
//	@version		1.0
//	@description	Tasks, issues and visit notes synced to a remote store, partner trends, SOP knowledge base and AI assist for field operations teams.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/config"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile    string
	dbPath     string
	jsonOutput bool

	cfg config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldops",
		Short: "Field operations backend",
		Long: `fieldops serves the field operations API (tasks, issues, visit notes,
partners, SOP knowledge base and AI assist) and offers maintenance commands
that work directly on the local database.

Configuration comes from the environment; a .env file is loaded first when
present.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite path (overrides DB_PATH)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON instead of tables")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(overdueCmd())
	root.AddCommand(partnersCmd())
	root.AddCommand(kbCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads .env and the configuration and installs the global logger.
func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.DBPath = sysutil.FirstNonEmpty(dbPath, c.DBPath)
	cfg = c

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	return nil
}

// withDB opens and migrates the local database for the duration of fn.
func withDB(ctx context.Context, fn func(ctx context.Context, db *gorm.DB) error) error {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return fn(ctx, db)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the local database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *gorm.DB) error {
				log.Info().Str("db", cfg.DBPath).Int("tables", len(repo.Models())).Msg("schema up to date")
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fieldops", version)
		},
	}
}
