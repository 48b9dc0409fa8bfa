package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/cmd/folio/commands"
	"github.com/foliolabs/folio/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Folio - local document knowledge backend",
	Long: `Folio - local document knowledge backend.

Folio tracks long-running operations (index refreshes, folder imports,
exports) in a durable local store and exposes a polling status API.

Available commands:
  serve  - Start the operation status API server
  ops    - Inspect and manage operations

Examples:
  folio serve               # Start the status API
  folio ops ls              # List recent operations
  folio ops show <id>       # Show operation details
  folio ops cancel <id>     # Cancel a pending or running operation
  folio ops sweep           # Delete aged terminal records now`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.OpsCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
