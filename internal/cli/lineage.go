package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/ledger"
	"github.com/roach88/gantry/internal/lineage"
)

// NewLineageCommand creates the lineage command.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	var failFast bool

	cmd := &cobra.Command{
		Use:   "lineage <session-id> <batch-label>",
		Short: "Validate the parent-pointer chain of one workflow batch",
		Long: `Load every artifact of a (session, batch) group and check the
spec -> plan -> decision -> execution chain. Exit code 1 when any
violation is found.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(rootOpts, args[0], args[1], failFast, cmd)
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first violation")
	return cmd
}

func runLineage(opts *RootOptions, sessionID, batchLabel string, failFast bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	entries := led.ListRuns(ledger.Filter{SessionID: sessionID, BatchLabel: batchLabel}, 0, 0)
	if len(entries) == 0 {
		msg := fmt.Sprintf("no artifacts for session %s batch %s", sessionID, batchLabel)
		if ferr := formatter.Error(string(ledger.ErrCodeNotFound), msg); ferr != nil {
			return ferr
		}
		return NewExitError(ExitCommandError, msg)
	}

	arts := make([]artifact.RunArtifact, 0, len(entries))
	for _, e := range entries {
		art, err := led.GetRun(e.RunID)
		if err != nil {
			return reportLedgerError(formatter, err)
		}
		arts = append(arts, art)
	}
	formatter.VerboseLog("loaded %d artifacts for session %s batch %s", len(arts), sessionID, batchLabel)

	res := lineage.ValidateGroup(arts, failFast)

	if formatter.Format == "json" {
		if err := formatter.Success(map[string]any{
			"ok":         res.OK(),
			"violations": res.Violations,
		}); err != nil {
			return err
		}
	} else {
		report := lineage.RenderReport(sessionID, batchLabel, arts, res)
		if err := formatter.Success(string(report)); err != nil {
			return err
		}
	}
	if !res.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d lineage violations", len(res.Violations)))
	}
	return nil
}
