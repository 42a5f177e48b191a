package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var storedCmd = &cobra.Command{
	Use:   "stored",
	Short: "List stored postings",
	RunE:  runStored,
}

func init() {
	rootCmd.AddCommand(storedCmd)
}

func runStored(cmd *cobra.Command, args []string) error {
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

	records, err := s.List(ctx)
	if err != nil {
		logger.Error("listing stored postings", "error", err)
		return err
	}
	printRecords(os.Stdout, fmt.Sprintf("%d stored postings", len(records)), records)
	return nil
}
