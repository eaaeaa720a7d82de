package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"newscast/internal/batch"
	"newscast/internal/ledger"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var list bool

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show the latest or a given batch report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				ids, err := store.BatchIDs(cmd.Context(), 20)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, ids)
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No batch runs recorded")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			var run *ledger.BatchRun
			if len(args) == 1 {
				run, err = store.Batch(cmd.Context(), args[0])
			} else {
				run, err = store.LatestBatch(cmd.Context())
			}
			if errors.Is(err, ledger.ErrNotFound) {
				if len(args) == 1 {
					return fmt.Errorf("no batch run %q", args[0])
				}
				fmt.Fprintln(out, "No batch runs recorded")
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, run)
			}
			printBatchReport(out, run)
			cfg, err := ctx.ensureConfig()
			if err == nil {
				fmt.Fprintf(out, "report file: %s\n", batch.ReportPath(cfg.Paths.ReportsDir, run.RunID))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&list, "list", false, "List recent run ids")
	return cmd
}
