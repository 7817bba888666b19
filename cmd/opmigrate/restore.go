package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mterres/opmigrate/internal/archive"
	"github.com/mterres/opmigrate/internal/restore"
)

var restoreWorkers int

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Restore an archive into the target instance",
	Long: `Restore loads a backup archive (zip or directory) and recreates its
contents on the target instance. Entities already present on the target are
matched by natural key instead of duplicated, so re-running a restore is
safe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireTarget(); err != nil {
			return err
		}

		workers := restoreWorkers
		if workers == 0 {
			workers = cfg.Restore.Workers
		}

		printManifestInfo(os.Stdout, os.Stderr, args[0])

		snap, err := archive.Load(args[0])
		if err != nil {
			return fmt.Errorf("load archive: %w", err)
		}

		conn := connect(cfg.Target, cfg.HTTP)
		fmt.Printf("Restoring into %s\n", cfg.Target.URL)

		report, _, err := restore.Run(cmd.Context(), snap, conn, restore.Options{Workers: workers})
		if report != nil {
			report.Write(os.Stdout)
		}
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		return nil
	},
}

// printManifestInfo describes the archive's manifest when one exists. The
// manifest is advisory: an archive without one restores fine and prints
// nothing here, only an unreadable manifest warrants a warning.
func printManifestInfo(out, errw io.Writer, archivePath string) {
	manifest, err := archive.ReadManifest(archivePath)
	if err != nil {
		fmt.Fprintf(errw, "Warning: archive manifest unreadable: %v\n", err)
		return
	}
	if manifest == nil {
		return
	}
	fmt.Fprintf(out, "Archive created %s by %s\n", manifest.CreatedAt.Format(time.RFC3339), manifest.Tool)
}

func init() {
	restoreCmd.Flags().IntVar(&restoreWorkers, "workers", 0, "Concurrent creations per phase (default: restore.workers from config)")
	rootCmd.AddCommand(restoreCmd)
}
