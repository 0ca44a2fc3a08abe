package main

import (
	"fmt"

	"github.com/incidentsuite/backend/internal/samples"
	"github.com/spf13/cobra"
)

func newSamplesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List the bundled sample logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := samples.List()
			if err != nil {
				return err
			}
			for _, s := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %6d bytes\n", s.Name, s.Size)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a bundled sample log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := samples.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	})
	return cmd
}
