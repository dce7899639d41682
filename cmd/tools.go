package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docdrive/internal/config"
	"docdrive/internal/repository"
	"docdrive/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate needs the %s driver, got %s", config.DriverPostgres, cfg.Database.Driver)
		}
		return repository.RunMigrations(cfg.Database.GetDSN(), logger)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry one batch of pending blob deletions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sweeper := service.NewBlobSweeper(a.store, a.blobs, nil, a.logger, a.cfg.Sweeper.BatchSize)
		stats, err := sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var importDir string

// importCmd records a local file and uploads its bytes through the signed URL.
var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Create a file from local content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		var directoryID *uuid.UUID
		if importDir != "" {
			id, err := uuid.Parse(importDir)
			if err != nil {
				return fmt.Errorf("invalid --dir: %w", err)
			}
			directoryID = &id
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return fmt.Errorf("failed to detect content type: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		files := service.NewFileService(a.store, a.blobs, nil, a.logger)
		res, err := files.CreateFile(cmd.Context(), service.CreateFileInput{
			Name:        filepath.Base(path),
			DirectoryID: directoryID,
			MIMEType:    mtype.String(),
			Size:        int64(len(data)),
		})
		if err != nil {
			return err
		}

		if err := files.UploadContent(cmd.Context(), res.UploadURL, data, mtype.String()); err != nil {
			return errors.Join(fmt.Errorf("file %s recorded but upload failed", res.File.ID), err)
		}
		return printJSON(cmd, res.File)
	},
}

func init() {
	importCmd.Flags().StringVar(&importDir, "dir", "", "directory id to place the file in")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
