package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/incidentsuite/backend/internal/app"
	"github.com/spf13/cobra"
)

func newHistoryCmd(state *cliState) *cobra.Command {
	var (
		from, to string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored pipeline results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := parseOptionalTime(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toT, err := parseOptionalTime(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			a, err := app.New(state.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.History.Load(cmd.Context(), fromT, toT)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tORIGIN\tPROCESSED\tISSUES\tERROR")
			for _, r := range results {
				errMark := ""
				if r.Error != "" {
					errMark = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.RecordID, r.SourceFilename, r.Origin, r.ProcessedAt.Format(time.RFC3339), len(r.Issues), errMark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only results processed at or after this RFC3339 time")
	cmd.Flags().StringVar(&to, "to", "", "only results processed at or before this RFC3339 time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(state.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.History.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	})
	return cmd
}

func parseOptionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
