package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tripatlas/poi-pipeline/internal/pipeline"
	"github.com/tripatlas/poi-pipeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past merge runs from the local ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		ledger, err := store.Open(cfg.Store.Path)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		defer ledger.Close() //nolint:errcheck

		runs, err := ledger.RecentRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		for _, run := range runs {
			status := "running"
			switch {
			case run.Error != "":
				status = "failed: " + run.Error
			case run.FinishedAt != nil:
				status = "ok"
			}
			fmt.Printf("%s  %s  geocode=%t  countries=%d  %s  [%s]\n",
				run.ID[:8],
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Geocode,
				run.Countries,
				pipeline.FormatStats(run.Totals),
				status,
			)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}
