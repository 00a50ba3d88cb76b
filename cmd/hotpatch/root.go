package main

import (
	"github.com/spf13/cobra"

	"hotpatch/internal/config"
	"hotpatch/internal/logging"
)

// Version is stamped at build time via -ldflags.
var Version = "0.3.0-dev"

var repoFlag string

var rootCmd = &cobra.Command{
	Use:   "hotpatch",
	Short: "Hotpatch - incremental edit analysis engine",
	Long: `Hotpatch analyzes source edits against a running baseline and decides,
per document, whether the change can be applied in place, which semantic
edits that takes, and which edits must be rejected as rude.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("hotpatch version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "Repository root holding .hotpatch state")
}

func loadSetup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(repoFlag)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.Level(cfg.Logging.Level),
	})
	return cfg, logger, nil
}
