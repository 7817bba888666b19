package main

import (
	"github.com/spf13/cobra"

	"github.com/mterres/opmigrate/internal/config"
	"github.com/mterres/opmigrate/internal/op"
)

var configPath string

// version is stamped by the build with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "opmigrate",
	Short: "Back up, restore and report on OpenProject instances",
	Long: `opmigrate extracts a complete snapshot of an OpenProject instance into a
portable archive, restores archives into another instance with identity
remapping, and builds time-entry reports.

Configuration comes from opmigrate.yaml (or --config) and OPMIGRATE_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ./opmigrate.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func connect(inst config.Instance, http config.HTTP) *op.Client {
	return op.NewClient(inst.URL, inst.APIKey, op.Options{
		InsecureSkipVerify: inst.InsecureSkipVerify,
		MaxRetries:         http.MaxRetries,
		RetryDelay:         http.RetryDelay,
		PageSize:           http.PageSize,
	})
}
