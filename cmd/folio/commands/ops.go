package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/config"
	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/logger"
	"github.com/foliolabs/folio/ops"
)

// OpsCmd groups operation management commands
var OpsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect and manage operations",
	Long: `Inspect and manage long-running operations.

Commands:
  folio ops ls              # List recent operations
  folio ops show <id>       # Show operation details
  folio ops cancel <id>     # Cancel a pending or running operation
  folio ops sweep           # Delete aged terminal records now
  folio ops stats           # Counts by status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// OpsLsCmd lists operations
var OpsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List operations",
	Long: `List operations, newest first, optionally filtered by status.

Status filters: pending, running, completed, failed, cancelled

Examples:
  folio ops ls                    # List recent operations
  folio ops ls --status running   # Only running operations
  folio ops ls --limit 100        # Show up to 100 operations`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runOpsLs(statusFilter, limit)
	},
}

// OpsShowCmd shows details for one operation
var OpsShowCmd = &cobra.Command{
	Use:   "show <operation-id>",
	Short: "Show operation details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpsShow(args[0])
	},
}

// OpsCancelCmd cancels a pending or running operation
var OpsCancelCmd = &cobra.Command{
	Use:   "cancel <operation-id>",
	Short: "Cancel a pending or running operation",
	Long: `Request cancellation of a pending or running operation.

Cancellation is cooperative: a running producer winds down at its next
check, but the record is marked cancelled immediately.

Example:
  folio ops cancel refresh_index-a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpsCancel(args[0])
	},
}

// OpsSweepCmd runs a retention sweep immediately
var OpsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete aged terminal records now",
	Long: `Run one retention sweep immediately.

Terminal operations (completed, failed, cancelled) whose completion is
older than the configured retention window are deleted. Pending and
running operations are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpsSweep()
	},
}

// OpsStatsCmd shows operation counts by status
var OpsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show operation counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpsStats()
	},
}

func init() {
	OpsLsCmd.Flags().String("status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	OpsLsCmd.Flags().Int("limit", config.DefaultListLimit, "Maximum number of operations to display")

	OpsCmd.AddCommand(OpsLsCmd)
	OpsCmd.AddCommand(OpsShowCmd)
	OpsCmd.AddCommand(OpsCancelCmd)
	OpsCmd.AddCommand(OpsSweepCmd)
	OpsCmd.AddCommand(OpsStatsCmd)
}

// openDatabase opens the configured database with migrations applied
func openDatabase() (*sql.DB, error) {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(database, nil); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return database, nil
}

func runOpsLs(statusFilter string, limit int) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := ops.NewStore(database)

	var status *ops.Status
	if statusFilter != "" {
		if !ops.IsValidStatus(statusFilter) {
			return fmt.Errorf("invalid status filter: %s", statusFilter)
		}
		s := ops.Status(statusFilter)
		status = &s
	}

	operations, err := store.List(status, limit)
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}

	if len(operations) == 0 {
		pterm.Info.Println("No operations found")
		return nil
	}

	fmt.Printf("%-28s %-10s %-15s %s\n", "OPERATION ID", "STATUS", "PROGRESS", "CREATED")
	fmt.Printf("%-28s %-10s %-15s %s\n", "------------", "------", "--------", "-------")

	for _, op := range operations {
		progress := fmt.Sprintf("%d", op.ProcessedItems)
		if op.TotalItems != nil {
			progress = fmt.Sprintf("%d/%d (%.0f%%)", op.ProcessedItems, *op.TotalItems, op.Percentage())
		}

		fmt.Printf("%-28s %-10s %-15s %s\n",
			truncate(op.ID, 28),
			op.Status,
			progress,
			op.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d operation(s)\n", len(operations))
	return nil
}

func runOpsShow(id string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := ops.NewStore(database)
	op, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("failed to get operation: %w", err)
	}

	fmt.Printf("Operation: %s\n", op.ID)
	fmt.Printf("  Kind: %s\n", op.Kind)
	fmt.Printf("  Status: %s\n", op.Status)
	fmt.Printf("\n")

	if op.TotalItems != nil {
		fmt.Printf("Progress: %d/%d (%.1f%%)\n", op.ProcessedItems, *op.TotalItems, op.Percentage())
	} else {
		fmt.Printf("Progress: %d processed\n", op.ProcessedItems)
	}
	if op.FailedItems > 0 {
		fmt.Printf("Failed items: %d\n", op.FailedItems)
	}
	if op.CurrentItem != "" {
		fmt.Printf("Current item: %s\n", op.CurrentItem)
	}
	fmt.Printf("\n")

	if len(op.Result) > 0 {
		fmt.Printf("Result: %s\n", op.Result)
	}
	if op.Error != "" {
		fmt.Printf("Error: %s\n", op.Error)
	}

	fmt.Printf("Created: %s\n", op.CreatedAt.Format("2006-01-02 15:04:05"))
	if op.StartedAt != nil {
		fmt.Printf("Started: %s\n", op.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if op.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", op.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runOpsCancel(id string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	runningTimeout := time.Duration(cfg.Operations.RunningTimeoutSeconds) * time.Second
	manager, err := ops.NewManager(ops.NewStore(database), runningTimeout, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize operation manager: %w", err)
	}
	defer manager.Close()

	op, err := manager.Cancel(id)
	if err != nil {
		return fmt.Errorf("failed to cancel operation: %w", err)
	}

	pterm.Success.Printf("Operation %s cancelled\n", op.ID)
	return nil
}

func runOpsSweep() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	retention := time.Duration(cfg.Operations.RetentionHours) * time.Hour
	sweepInterval := time.Duration(cfg.Operations.SweepIntervalMinutes) * time.Minute
	sweeper := ops.NewSweeper(ops.NewStore(database), retention, sweepInterval, logger.Logger)

	deleted, err := sweeper.Sweep()
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	pterm.Success.Printf("Swept %d aged operation record(s)\n", deleted)
	return nil
}

func runOpsStats() error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := ops.NewStore(database)
	counts, err := store.CountByStatus()
	if err != nil {
		return fmt.Errorf("failed to count operations: %w", err)
	}

	total := 0
	for _, status := range []ops.Status{ops.StatusPending, ops.StatusRunning, ops.StatusCompleted, ops.StatusFailed, ops.StatusCancelled} {
		fmt.Printf("%-10s %d\n", status, counts[status])
		total += counts[status]
	}
	fmt.Printf("%-10s %d\n", "total", total)

	return nil
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
