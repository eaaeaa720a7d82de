package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"newscast/internal/fingerprint"
	"newscast/internal/ledger"
	"newscast/internal/textutil"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string
	var halted bool
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List articles in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			filter := ledger.Filter{HaltedOnly: halted, Limit: limit}
			if stageFlag != "" {
				parsed, ok := ledger.ParseStage(strings.TrimSpace(stageFlag))
				if !ok {
					return fmt.Errorf("unknown stage %q", stageFlag)
				}
				filter.Stage = parsed
			}

			states, corrupt, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, struct {
					Articles []*ledger.ArticleState `json:"articles"`
					Corrupt  []string               `json:"corrupt,omitempty"`
				}{states, corrupt})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			counts, err := store.StageCounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, line := range renderSectionHeader("Ledger", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, store.Path(), colorize))
			fmt.Fprintln(out, renderStatusLine("Articles", statusInfo, formatCounts(counts), colorize))
			if len(corrupt) > 0 {
				fmt.Fprintln(out, renderStatusLine("Corrupt rows", statusWarn,
					fmt.Sprintf("%d (they are discarded and re-run on the next drive)", len(corrupt)), colorize))
			}
			fmt.Fprintln(out)

			if len(states) == 0 {
				fmt.Fprintln(out, "No articles match")
				return nil
			}
			rows := make([][]string, 0, len(states))
			for _, st := range states {
				rows = append(rows, []string{
					fingerprint.Short(st.Fingerprint),
					textutil.Truncate(st.Query, 48),
					articleStatus(st),
					strconv.Itoa(st.Attempts),
					dash(textutil.Truncate(st.LatestRef(), 48)),
					formatTime(st.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Fingerprint", "Query", "Status", "Attempts", "Latest", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				colorize,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only articles at this stage")
	cmd.Flags().BoolVar(&halted, "halted", false, "Only FAILED or STALE articles")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "Maximum articles to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
