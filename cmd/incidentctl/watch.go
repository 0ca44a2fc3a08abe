package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/incidentsuite/backend/internal/app"
	"github.com/spf13/cobra"
)

func newWatchCmd(state *cliState) *cobra.Command {
	var (
		dir  string
		once bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process files dropped into the watch directory until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(state.cfg, app.WithWatcher(dir))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				n := a.Watcher.PollOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d file(s) from %s\n", n, a.Watcher.Status().WatchDir)
				return nil
			}
			return a.RunWatcher(ctx)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "watch directory, defaults to the configured one")
	cmd.Flags().BoolVar(&once, "once", false, "process pending files once and exit")
	return cmd
}
