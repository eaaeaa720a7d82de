package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newscast/internal/fingerprint"
	"newscast/internal/pipeline"
	"newscast/internal/services"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var staleOnly bool

	cmd := &cobra.Command{
		Use:   "resume [fingerprint...]",
		Short: "Re-drive STALE or interrupted articles",
		Long: `Resume the named articles, or every resumable article when none are named.
A STALE article re-polls its recorded video job with a fresh deadline; an
interrupted article continues from its last recorded stage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			fps := make([]string, 0, len(args))
			for _, arg := range args {
				fp, err := resolveFingerprint(signalCtx, rt.store, arg)
				if err != nil {
					return err
				}
				fps = append(fps, fp)
			}
			if len(fps) == 0 {
				fps, err = rt.orch.Resumable(signalCtx, staleOnly)
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if len(fps) == 0 {
				fmt.Fprintln(out, "Nothing to resume")
				return nil
			}

			rows := make([][]string, 0, len(fps))
			failed := 0
			for _, fp := range fps {
				st, err := rt.orch.Resume(services.WithFingerprint(signalCtx, fp), fp)
				switch {
				case errors.Is(err, pipeline.ErrNotResumable):
					rows = append(rows, []string{fingerprint.Short(fp), articleStatus(st), "not resumable"})
					continue
				case err != nil:
					if signalCtx.Err() != nil {
						return err
					}
					failed++
					rows = append(rows, []string{fingerprint.Short(fp), "-", services.Details(err).Message})
					continue
				}
				detail := "-"
				if st.LastError != nil {
					detail = st.LastError.Message
				}
				if st.Halt != "" {
					failed++
				}
				rows = append(rows, []string{fingerprint.Short(fp), articleStatus(st), detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Fingerprint", "Status", "Detail"}, rows, nil, shouldColorize(out)))
			if failed > 0 {
				return fmt.Errorf("%d of %d article(s) did not finish", failed, len(fps))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&staleOnly, "stale", false, "Only resume STALE articles")
	return cmd
}
