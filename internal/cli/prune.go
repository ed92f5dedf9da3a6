package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPruneCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune repeated snapshots of the latest content",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Pipeline().PruneLatest(cmd.Context(), a.Provider())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d snapshot(s)\n", n)
			return nil
		},
	}
}
