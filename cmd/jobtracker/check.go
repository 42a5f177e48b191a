package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobtracker/internal/tracker"
)

var checkFlags queryFlags

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Search once, print normalized postings, exit",
	Long:  "One-shot search and normalize. Does not open or write to the store.",
	RunE:  runCheck,
}

func init() {
	checkFlags.register(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("check mode: nothing will be stored")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	searcher, cleanup, err := buildSearcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer cleanup()

	tr := tracker.New(searcher, nil, nil, logger)
	records, err := tr.Preview(ctx, checkFlags.query())
	if err != nil {
		logger.Error("check failed", "error", err)
		return err
	}

	fmt.Fprintln(os.Stdout, headerStyle.Render(fmt.Sprintf("%d postings", len(records))))
	for _, r := range records {
		printRecord(os.Stdout, "", r)
	}
	return nil
}
