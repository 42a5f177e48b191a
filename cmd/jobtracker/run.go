package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runFlags queryFlags
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one fetch cycle and print the report",
	Long:  "Search, normalize, reconcile into the store, and print what the cycle inserted and retired.",
	RunE:  runRun,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.Close()

	report, err := a.tracker.RunFetchCycle(ctx, runFlags.query())
	if err != nil {
		logger.Error("fetch cycle failed", "cycle_id", report.CycleID, "error", err)
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(os.Stdout, report)
	return nil
}
