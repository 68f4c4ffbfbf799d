package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatvault/config"
	"chatvault/logger"
)

const version = "v0.3.0"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "chatvault",
	Short:   "Archive chat attachments and keep activity stats",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = config.GetConfigPath()
		}
		if err := config.EnsureConfigExists(configPath); err != nil {
			return err
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return logger.InitLogger(cfg.Options.SaveLocation)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chatvault version",
	// Overrides the root hook: printing the version must not scaffold a
	// config file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "chatvault "+version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
