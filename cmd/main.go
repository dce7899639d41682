package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docdrive/internal/config"
	"docdrive/internal/logging"
	"docdrive/internal/repository"
	"docdrive/internal/repository/memory"
	"docdrive/internal/service/s3"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "docdrive",
	Short:         "File and directory metadata service backed by PostgreSQL and S3",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".app.env", "config file (.env, yaml, json or toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds what every command needs once the config is loaded.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  repository.Store
	// db is nil for the memory driver.
	db    *sqlx.DB
	blobs *s3.Client
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.NewConfig(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

// newApp connects the metadata store and builds the blob client. The
// PostgreSQL schema is migrated before the store is handed out.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory metadata store, data is lost on exit")
		a.store = memory.NewStore()
	default:
		db, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.store = repository.NewPostgresStore(db)
	}

	blobs, err := s3.NewClient(&cfg.S3)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	a.blobs = blobs

	return a, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sqlx.DB, error) {
	dsn := cfg.Database.GetDSN()

	db, err := repository.Connect(ctx, dsn, cfg.Database.ConnectAttempts, cfg.Database.ConnectDelay, logger)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := repository.RunMigrations(dsn, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// health reports whether the metadata store is reachable.
func (a *app) health(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close metadata store")
		}
	}
}
