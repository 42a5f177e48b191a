package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobtracker/internal/reconcile"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Retire stale duplicates without fetching",
	Long:  "Groups the store by external id and deletes every record except the most recently fetched one per group.",
	RunE:  runDedupe,
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
}

func runDedupe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer s.Close()

	engine := reconcile.NewEngine(s, logger, reconcile.WithOpTimeout(cfg.Store.OpTimeout))
	retired, err := engine.RetireDuplicates(ctx)
	if err != nil {
		logger.Error("dedupe failed", "error", err)
		return err
	}
	fmt.Fprintln(os.Stdout, okStyle.Render(fmt.Sprintf("retired %d stale duplicates", retired)))
	return nil
}
