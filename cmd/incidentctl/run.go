package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/incidentsuite/backend/internal/app"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/models"
	"github.com/incidentsuite/backend/internal/samples"
	"github.com/incidentsuite/backend/internal/services"
	"github.com/spf13/cobra"
)

func newRunCmd(state *cliState) *cobra.Command {
	var (
		sample string
		asJSON bool
		noSave bool
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run the pipeline once on a file or a bundled sample",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, filename, origin, err := readInput(args, sample)
			if err != nil {
				return err
			}

			a, err := app.New(state.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			start := time.Now()
			result := a.Pipeline.Run(ctx, raw, filename)
			stamped := result.WithIngestion(filename, time.Now(), time.Since(start), origin)

			if !noSave {
				id, err := a.History.Save(ctx, &stamped, filename, origin)
				if err != nil {
					logger.WithError(err, "incidentctl").Warn("Failed to save result")
				} else {
					stamped.RecordID = id
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stamped)
			}
			printResult(cmd.OutOrStdout(), stamped)
			return nil
		},
	}
	cmd.Flags().StringVar(&sample, "sample", "", "run a bundled sample log instead of a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the result in history")
	return cmd
}

func readInput(args []string, sample string) (raw, filename string, origin models.Origin, err error) {
	switch {
	case sample != "" && len(args) > 0:
		return "", "", "", fmt.Errorf("pass either a file or --sample, not both")
	case sample != "":
		raw, err = samples.Get(sample)
		return raw, sample, models.OriginSample, err
	case len(args) == 0:
		return "", "", "", fmt.Errorf("a file or --sample is required")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return "", "", "", err
	}
	defer f.Close()
	raw, err = services.DecodeText(f)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return raw, filepath.Base(args[0]), models.OriginCLI, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r models.PipelineResult) {
	fmt.Fprintf(w, "File:    %s (%s)\n", r.SourceFilename, r.Origin)
	fmt.Fprintf(w, "Run:     %s in %.2fs\n", r.RunID, r.ProcessingTimeSeconds)
	if r.RecordID != "" {
		fmt.Fprintf(w, "Record:  %s\n", r.RecordID)
	}
	fmt.Fprintf(w, "Entries: %d\n", len(r.LogRecords))
	if r.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", r.Error)
	}

	fmt.Fprintf(w, "\nIssues (%d):\n", len(r.Issues))
	for _, issue := range models.SortBySeverity(r.Issues) {
		fmt.Fprintf(w, "  [%s] %s\n", issue.Severity, issue.Description)
	}

	if len(r.Tickets) > 0 {
		fmt.Fprintf(w, "\nTickets (%d):\n", len(r.Tickets))
		for _, t := range r.Tickets {
			fmt.Fprintf(w, "  %s  %s  [%s]\n", t.Priority, t.Summary, strings.Join(t.Labels, ","))
		}
	}

	if r.Notification != nil {
		fmt.Fprintf(w, "\nNotification to %s (%s):\n%s\n", r.Notification.Channel, r.Notification.Mode, r.Notification.Summary)
	}

	if r.Runbook != "" {
		fmt.Fprintf(w, "\n%s\n", r.Runbook)
	}
}
