package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var wipeYes bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every stored posting",
	RunE:  runWipe,
}

func init() {
	wipeCmd.Flags().BoolVarP(&wipeYes, "yes", "y", false, "confirm deleting every stored posting")
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if !wipeYes {
		err := errors.New("refusing to wipe without --yes")
		logger.Error("wipe not confirmed", "error", err)
		return err
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer s.Close()

	deleted, err := s.Wipe(ctx)
	if err != nil {
		logger.Error("wipe failed", "error", err)
		return err
	}
	fmt.Fprintln(os.Stdout, warnStyle.Render(fmt.Sprintf("deleted %d stored postings", deleted)))
	return nil
}
