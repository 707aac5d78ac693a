package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chaatu",
		Short: "Realtime chat client for the chaatu backend",
		Long:  "chaatu talks to a chat backend: it persists conversations over REST and streams assistant replies over a websocket.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newChatsCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newConnectionsCmd())
	cmd.AddCommand(newFilesCmd())
	cmd.AddCommand(newMockServerCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chaatu %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
