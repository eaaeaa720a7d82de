package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"newscast/internal/acquire"
	"newscast/internal/fingerprint"
	"newscast/internal/ledger"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <fingerprint|prefix|query>",
		Short: "Show one article's state, payloads and video jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			fp, err := resolveFingerprint(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			st, err := store.Lookup(cmd.Context(), fp)
			if err != nil {
				return err
			}
			jobs, err := store.VideoJobs(cmd.Context(), fp)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, struct {
					Article *ledger.ArticleState `json:"article"`
					Jobs    []*ledger.VideoJob   `json:"video_jobs"`
				}{st, jobs})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Article", colorize) {
				fmt.Fprintln(out, line)
			}
			kind := statusInfo
			switch {
			case st.Stage == ledger.StageDone:
				kind = statusOK
			case st.Halt == ledger.HaltFailed:
				kind = statusError
			case st.Halt == ledger.HaltStale:
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Fingerprint", statusInfo, st.Fingerprint, colorize))
			fmt.Fprintln(out, renderStatusLine("Query", statusInfo, st.Query, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", kind, articleStatus(st), colorize))
			fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo, strconv.Itoa(st.Attempts), colorize))
			fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatTime(st.CreatedAt), colorize))
			fmt.Fprintln(out, renderStatusLine("Updated", statusInfo, formatTime(st.UpdatedAt), colorize))
			if le := st.LastError; le != nil {
				fmt.Fprintln(out, renderStatusLine("Last error", statusError,
					fmt.Sprintf("%s at %s: %s", le.Kind, le.Stage, le.Message), colorize))
			}
			fmt.Fprintln(out)

			if len(st.Payloads) > 0 {
				rows := make([][]string, 0, len(st.Payloads))
				for _, p := range st.Payloads {
					rows = append(rows, []string{p.Stage.Label(), p.Ref, formatTime(p.RecordedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Reference", "Recorded"}, rows, nil, colorize))
			}
			if len(jobs) > 0 {
				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, []string{
						dash(j.JobID),
						string(j.Status),
						strconv.Itoa(j.PollCount),
						strconv.Itoa(j.Resumes),
						formatTime(j.SubmittedAt),
						formatTime(j.LastPolledAt),
						dash(firstNonEmpty(j.ResultRef, j.Error)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Status", "Polls", "Resumes", "Submitted", "Last poll", "Result"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
					colorize,
				))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// resolveFingerprint accepts a full fingerprint, the short form printed in
// tables, or the original query text (topics resolve against today).
func resolveFingerprint(ctx context.Context, store *ledger.Store, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("fingerprint is required")
	}
	if _, err := store.Lookup(ctx, arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return "", err
	}

	if fp := fingerprint.Identify(acquire.ParseQuery(arg).Ref(time.Now())); fp != "" {
		if _, err := store.Lookup(ctx, fp); err == nil {
			return fp, nil
		}
	}

	states, corrupt, err := store.List(ctx, ledger.Filter{})
	if err != nil {
		return "", err
	}
	candidates := corrupt
	for _, st := range states {
		candidates = append(candidates, st.Fingerprint)
	}
	var matches []string
	for _, fp := range candidates {
		if strings.HasPrefix(fingerprint.Short(fp), arg) || strings.HasPrefix(fp, arg) {
			matches = append(matches, fp)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no article matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous: %d articles match", arg, len(matches))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
