package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"newscast/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks",
		Long: `Check directories, credentials and the ledger, then ask every stage
executor for its health. --offline skips the vendor calls.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			opts := preflight.Options{Ledger: store}
			if !offline && len(cfg.MissingCredentials()) == 0 {
				rt, err := ctx.ensureApp(cmd.Context())
				if err != nil {
					return err
				}
				opts.Executors = rt.executors
			}

			results := preflight.RunAll(cmd.Context(), cfg, opts)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			if ctx.configPath != "" {
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if opts.Executors == nil && !offline {
				fmt.Fprintln(out, renderStatusLine("Stages", statusWarn, "skipped until credentials are configured", colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip vendor health checks")
	return cmd
}
