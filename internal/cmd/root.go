// Package cmd implements the taskhub CLI.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskhub",
	Short: "Task orchestration hub",
	Long: `taskhub is the synchronization hub for distributed task processors.
It flattens a hierarchical template set into startable tasks, routes each
task to processors by environment, and keeps every holder of an instance
in sync through a command protocol with locking and rate limits.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx so signals cancel
// long-running commands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
