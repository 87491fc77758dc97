package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "peer",
	Short:        "Terminal peer for collaborative sessions",
	Long:         `Joins a session over WebSocket and edits it from stdin. Commands: join.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
