package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spclaim/internal/app"
	"spclaim/internal/task/scheduler"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "prints the next fire times of every claim",
		Example: "spclaim schedule --count 10",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be > 0")
			}
			_, reqs, err := app.Check(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			now := time.Now()
			for _, r := range reqs {
				runs, err := scheduler.NextRuns(r.Schedule, r.Timezone, now, count)
				if err != nil {
					return fmt.Errorf("claim %q: %w", r.Name, err)
				}
				fmt.Fprintf(out, "%s  %q  %s\n", r.Name, r.Schedule, r.Timezone)
				for _, t := range runs {
					fmt.Fprintf(out, "  %s\n", t.Format("2006-01-02 15:04:05 MST"))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times per claim")
	return cmd
}
