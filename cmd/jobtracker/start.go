package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobtracker/internal/httpapi"
	"github.com/amishk599/jobtracker/internal/scheduler"
)

var startWithHTTP bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	Long:  "Run the configured queries on the schedule; blocks until SIGINT/SIGTERM. With --http the API is served alongside.",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startWithHTTP, "http", false, "also serve the HTTP API")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if len(cfg.Schedule.Queries) == 0 {
		err := errors.New("schedule.queries is empty")
		logger.Error("nothing to schedule", "error", err)
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

	sched, err := scheduler.NewScheduler(a.tracker, cfg.Schedule.Queries, cfg.Schedule.Spec, logger)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if startWithHTTP {
		handler := httpapi.NewRouter(a.tracker, a.store, logger)
		g.Go(func() error { return httpapi.Serve(gctx, cfg.HTTP.Addr, handler, logger) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("daemon error", "error", err)
		return err
	}

	logger.Info("goodbye")
	return nil
}
