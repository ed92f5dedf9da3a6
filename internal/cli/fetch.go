package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"outagebot/internal/outage"
	"outagebot/internal/pipeline"
)

func newFetchCmd(g *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one fetch and notify subscribers of new paragraphs",
		Long:  "fetch runs the detection pipeline once. With --dry-run it fetches and prints the message that would be sent, without storing the snapshot or sending anything.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if dryRun {
				pv, err := a.Pipeline().DryRun(ctx, a.Provider())
				if err != nil {
					return err
				}
				printPreview(out, pv)
				return nil
			}
			rep, err := a.Pipeline().Run(ctx, a.Provider())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the composed message without persisting or sending")
	return cmd
}

func printPreview(w io.Writer, pv pipeline.Preview) {
	ev := pv.Event
	fmt.Fprintf(w, "provider:  %s\n", pv.Snapshot.Provider)
	fmt.Fprintf(w, "hash:      %s\n", pv.Snapshot.ContentHash)
	fmt.Fprintf(w, "changed:   %t\n", ev.Changed)
	if ev.Previous != nil {
		fmt.Fprintf(w, "previous:  #%d at %s\n", ev.Previous.ID, ev.Previous.FetchedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(w, "previous:  none")
	}
	fmt.Fprintf(w, "added:     %d paragraph(s)\n", len(ev.Added))
	switch {
	case pv.Message != nil:
		fmt.Fprintf(w, "groups:    %v\n", outage.ExtractGroups(outage.Unescape(pv.Message.Body)))
		fmt.Fprintf(w, "\n%s\n", pv.Message.Body)
	case ev.Changed:
		fmt.Fprintln(w, "\nnothing to send (only removals or reordering)")
	}
}
