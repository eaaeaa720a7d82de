package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"newscast/internal/acquire"
	"newscast/internal/config"
	"newscast/internal/fingerprint"
	"newscast/internal/ledger"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var topics []string
	var urls []string
	var file string
	var concurrency int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run [query...]",
		Short: "Run a batch of news queries through the pipeline",
		Long: `Run a batch of news queries. Each positional argument is a topic or an
http(s) URL; --topic, --url and --file add more. Articles already done are
reported as succeeded without calling any vendor again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := collectQueries(args, topics, urls, file)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := requireCredentials(cfg); err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := ctx.ensureApp(signalCtx)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.Batch.MaxConcurrency
			}
			run, err := rt.batches.RunBatch(signalCtx, queries, concurrency)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, run); err != nil {
					return err
				}
			} else {
				printBatchReport(cmd.OutOrStdout(), run)
			}
			if run.Counts.Failed > 0 {
				return fmt.Errorf("batch %s finished with %d failed article(s)", run.RunID, run.Counts.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "Topic to search for (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Article URL to fetch (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML queries file")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "Articles in flight at once (default batch.max_concurrency)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the batch report as JSON")
	return cmd
}

func collectQueries(args, topics, urls []string, file string) ([]acquire.Query, error) {
	var queries []acquire.Query
	for _, raw := range args {
		queries = append(queries, acquire.ParseQuery(raw))
	}
	for _, topic := range topics {
		queries = append(queries, acquire.Query{Topic: topic})
	}
	for _, u := range urls {
		queries = append(queries, acquire.Query{URL: strings.TrimSpace(u)})
	}
	if strings.TrimSpace(file) != "" {
		path, err := config.ExpandPath(strings.TrimSpace(file))
		if err != nil {
			return nil, err
		}
		fromFile, err := acquire.LoadQueries(path)
		if err != nil {
			return nil, err
		}
		queries = append(queries, fromFile...)
	}
	if len(queries) == 0 {
		return nil, errors.New("no queries given; pass topics, --url or --file")
	}
	return queries, nil
}

func requireCredentials(cfg *config.Config) error {
	missing := cfg.MissingCredentials()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing credentials: %s (run `newscast check` for details)", strings.Join(missing, ", "))
}

func printBatchReport(out io.Writer, run *ledger.BatchRun) {
	fancy := shouldColorize(out)
	rows := make([][]string, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		rows = append(rows, []string{
			strconv.Itoa(o.Index + 1),
			o.Query,
			fingerprint.Short(o.Fingerprint),
			string(o.Kind),
			dash(string(o.Stage)),
			dash(o.Reason),
			yesNo(o.Resumable),
			dash(o.FinalRef),
		})
	}
	fmt.Fprintf(out, "Batch %s\n", run.RunID)
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Query", "Fingerprint", "Outcome", "Stage", "Reason", "Resumable", "Result"},
		rows,
		[]columnAlignment{alignRight},
		fancy,
	))
	summary := fmt.Sprintf("succeeded %d, failed %d, skipped %d", run.Counts.Succeeded, run.Counts.Failed, run.Counts.Skipped)
	if run.CompletedAt != nil {
		summary += " in " + formatDuration(run.CompletedAt.Sub(run.StartedAt))
	}
	fmt.Fprintln(out, summary)
	for stage, n := range run.QuotaPauses {
		fmt.Fprintf(out, "quota pauses at %s: %d\n", stage, n)
	}
}
