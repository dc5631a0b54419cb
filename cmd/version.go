package cmd

import (
	"github.com/oxtvirt/pvinput/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Commit and Date are injected via -ldflags at release build time,
	// e.g. -X github.com/oxtvirt/pvinput/cmd.Commit=$(git rev-parse HEAD)
	Commit string
	Date   string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Infof("pvinput %s", Version)
		logger.Infof("commit: %s", Commit)
		logger.Infof("built: %s", Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
