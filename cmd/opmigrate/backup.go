package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mterres/opmigrate/internal/archive"
	"github.com/mterres/opmigrate/internal/extract"
)

var (
	backupOutDir    string
	backupKeepDir   bool
	backupSpentFrom string
	backupSpentTo   string
	backupWorkers   int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Extract a full snapshot of the source instance into a zip archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireSource(); err != nil {
			return err
		}

		outDir := backupOutDir
		if outDir == "" {
			outDir = cfg.Backup.Dir
		}
		workers := backupWorkers
		if workers == 0 {
			workers = cfg.Backup.Workers
		}

		conn := connect(cfg.Source, cfg.HTTP)
		fmt.Printf("Backing up %s\n", cfg.Source.URL)

		snap, err := extract.Run(cmd.Context(), conn, extract.Options{
			Workers:   workers,
			SpentFrom: backupSpentFrom,
			SpentTo:   backupSpentTo,
		})
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}

		stamp := time.Now().Format("20060102_150405")
		staging := filepath.Join(outDir, "openproject_backup_"+stamp)
		if err := archive.Save(snap, staging); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}

		zipPath := staging + ".zip"
		if err := archive.ZipDir(staging, zipPath); err != nil {
			return fmt.Errorf("package archive: %w", err)
		}
		if !backupKeepDir {
			if err := os.RemoveAll(staging); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not remove staging directory %s: %v\n", staging, err)
			}
		}

		info, err := os.Stat(zipPath)
		if err != nil {
			return fmt.Errorf("stat archive: %w", err)
		}
		fmt.Printf("Backup complete: %s (%s)\n", zipPath, humanize.Bytes(uint64(info.Size())))
		counts := snap.Counts()
		for _, kind := range slices.Sorted(maps.Keys(counts)) {
			fmt.Printf("  %-24s %d\n", kind, counts[kind])
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutDir, "out", "o", "", "Output directory for the archive (default: backup.dir from config)")
	backupCmd.Flags().BoolVar(&backupKeepDir, "keep-dir", false, "Keep the unzipped staging directory next to the zip")
	backupCmd.Flags().StringVar(&backupSpentFrom, "spent-from", "", "Only include time entries spent on or after this date (YYYY-MM-DD)")
	backupCmd.Flags().StringVar(&backupSpentTo, "spent-to", "", "Only include time entries spent on or before this date (YYYY-MM-DD)")
	backupCmd.Flags().IntVar(&backupWorkers, "workers", 0, "Concurrent work package fetches (default: backup.workers from config)")
	rootCmd.AddCommand(backupCmd)
}
