package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers for gateway exchanges and reconciliation sweeps.`,
}

// Reconciliation worker command
var reconWorkerCmd = &cobra.Command{
	Use:   "reconciliation",
	Short: "Start the reconciliation scheduler",
	Long:  `Run the daily reconciliation scheduler standalone, requesting settlement reports on its cron spec and backfilling missed or errored dates.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconciliationWorker()
	},
}

var (
	sweepNow bool
)

func startReconciliationWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	config := deps.Config
	lg := deps.Logger

	if err := deps.Scheduler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(1)
	}

	lg.Info("reconciliation worker started",
		"cron", config.Reconciliation.CronSpec,
		"backfill_days", config.Reconciliation.BackfillDays,
		"max_workers", config.Jobs.MaxWorkers)

	if sweepNow {
		lg.Info("running immediate reconciliation sweep")
		deps.Scheduler.Sweep(context.Background(), time.Now())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lg.Info("reconciliation worker is running. Press Ctrl+C to stop.")

	// wait for shutdown signal
	sig := <-sigChan
	lg.Info("received signal, shutting down reconciliation worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		deps.Scheduler.Stop()
		deps.Dispatcher.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		lg.Info("reconciliation worker shutdown complete")
	case <-ctx.Done():
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

func init() {
	reconWorkerCmd.Flags().BoolVar(&sweepNow, "sweep-now", false, "Run a backfill sweep immediately on startup")

	workerCmd.AddCommand(reconWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
