package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/pipump/config"
	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
	"github.com/kilianp07/pipump/jobs/dailykpi"
)

var backfillPump string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild the daily runtime totals from the run log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.KPI.Path == "" {
			return errors.New("kpi.path is not configured")
		}
		src, err := runlog.Open(cfg.RunLog)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		dst, err := kpi.NewSQLiteStore(cfg.KPI.Path)
		if err != nil {
			return err
		}
		defer func() { _ = dst.Close() }()

		n, err := dailykpi.Backfill(context.Background(), dst, src, runlog.Query{Pump: backfillPump})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d runs replayed\n", n)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPump, "pump", "", "only replay the runs of this pump")
	rootCmd.AddCommand(backfillCmd)
}
