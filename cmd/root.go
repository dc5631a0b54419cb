package cmd

import (
	"fmt"

	"github.com/oxtvirt/pvinput/internal/config"
	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "pvinput",
		Short: "Pvinput - paravirtual input frontend",
		Long: `Pvinput consumes keyboard, pointer and multitouch events published by a
backend domain over a shared ring page and replays them into virtual input
devices created through the uinput kernel module.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if lvl := config.Get().Logging.LogLevel; lvl != "" {
				logger.SetLevel(lvl)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")

	rootCmd.AddCommand(runCmd)
}
