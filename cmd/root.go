package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "actorbridge",
	Short: "Actor message runtime with channel bridges",
	Long:  "Runs named actors behind a message queue and exposes them over WebSocket, Telegram and a C shared library.",
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
