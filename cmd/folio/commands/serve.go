package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/foliolabs/folio/config"
	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/logger"
	"github.com/foliolabs/folio/ops"
	"github.com/foliolabs/folio/server"
)

// shutdownTimeout bounds how long graceful shutdown may take before the
// second Ctrl+C path is the only way out
const shutdownTimeout = 10 * time.Second

var servePort int

// ServeCmd starts the operation status API server
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operation status API server",
	Long: `Start the Folio operation status API server.

On startup the server reconciles operations orphaned by a previous crash
and begins the periodic retention sweep. Clients poll the API:

  POST /api/operations              Create an operation
  GET  /api/operations              List operations (?status=, ?limit=)
  GET  /api/operations/{id}         Operation details
  POST /api/operations/{id}/cancel  Request cancellation
  GET  /api/operations/stats        Counts by status

Example:
  folio serve --port 8742`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Status API port (default from config)")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	store := ops.NewStore(database)

	runningTimeout := time.Duration(cfg.Operations.RunningTimeoutSeconds) * time.Second
	manager, err := ops.NewManager(store, runningTimeout, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize operation manager: %w", err)
	}
	defer manager.Close()

	retention := time.Duration(cfg.Operations.RetentionHours) * time.Hour
	sweepInterval := time.Duration(cfg.Operations.SweepIntervalMinutes) * time.Minute
	sweeper := ops.NewSweeper(store, retention, sweepInterval, logger.Logger)
	sweeper.Start()
	defer sweeper.Stop()

	serverCfg := cfg.Server
	if servePort != 0 {
		serverCfg.Port = servePort
	}
	srv := server.NewServer(manager, &serverCfg, logger.Logger)

	pterm.Info.Printf("Folio status API on http://localhost:%d (database: %s)\n", srv.Port(), dbPath)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdownDone <- srv.Shutdown(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
