package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/logging"
	"github.com/roach88/gantry/internal/promotion"
)

// promoteFlags are the options for gantry promote.
type promoteFlags struct {
	jobLogPath string
	policyPath string
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &promoteFlags{}

	cmd := &cobra.Command{
		Use:   "promote <preset-id> <lane>",
		Short: "Check whether a preset may be promoted into a lane",
		Long: `Evaluate the promotion policy for a preset against its recent job
history. Exit code 1 when promotion is denied.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPromote(rootOpts, flags, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&flags.jobLogPath, "job-log", "jobs.db", "path to the job log database")
	cmd.Flags().StringVar(&flags.policyPath, "policy", "", "promotion policy YAML (defaults apply when unset or invalid)")

	return cmd
}

func runPromote(opts *RootOptions, flags *promoteFlags, presetID, lane string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg := promotion.LoadOrDefault(flags.policyPath, logging.New("promotion"))

	jobs, err := promotion.OpenJobLog(flags.jobLogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("open job log %s", flags.jobLogPath), err)
	}
	defer jobs.Close()

	engine := promotion.NewEngine(cfg, jobs)
	outcome, err := engine.Evaluate(cmd.Context(), presetID, lane)
	if err != nil {
		return WrapExitError(ExitCommandError, "evaluate promotion", err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(outcome); err != nil {
			return err
		}
	} else {
		verdict := "denied"
		if outcome.Allowed {
			verdict = "allowed"
		}
		msg := fmt.Sprintf("promotion of %s to %s: %s\n  %s", presetID, lane, verdict, outcome.Reason)
		if err := formatter.Success(msg); err != nil {
			return err
		}
	}
	if !outcome.Allowed {
		return NewExitError(ExitFailure, outcome.Reason)
	}
	return nil
}
