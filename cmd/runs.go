package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newRunsCmd creates the 'runs' subcommand, which lists recent crawl runs.
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent crawl runs",
		RunE:  withSession(runRunsCommand),
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to show")
	return cmd
}

func runRunsCommand(cmd *cobra.Command, s *session) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	runs, err := s.app.Runs().ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUERY\tSTATUS\tREASON\tTOTAL\tPAGES\tSTARTED\tFINISHED")
	for _, run := range runs {
		finished := "-"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			run.ID, run.Query, run.Status, run.Reason, run.Total, run.Pages,
			run.StartedAt.Format(time.RFC3339), finished)
	}
	return w.Flush()
}
