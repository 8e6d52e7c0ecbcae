package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lobby",
	Short: "Lobby - realtime visitor approval gate",
	Long: `Lobby holds unknown visitors in a waiting room until an operator
approves or blocks them. Decisions reach the waiting visitor over a push
channel, with polling as the fallback, and every operator session sees
visitor activity and alerts as they happen.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lobby version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(visitorCmd)
	rootCmd.AddCommand(adminCmd)
}
