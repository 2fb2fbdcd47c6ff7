package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/ledger"
)

// deleteFlags are the options for gantry delete.
type deleteFlags struct {
	mode    string
	reason  string
	actor   string
	cascade bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &deleteFlags{}

	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Soft- or hard-delete an artifact",
		Long: `Delete an artifact. Soft delete tombstones the index entry and keeps
the payload; hard delete also removes the payload file. Every attempt,
including failures, appends one line to the delete audit log.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, flags, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&flags.mode, "mode", "soft", "delete mode (soft|hard)")
	cmd.Flags().StringVar(&flags.reason, "reason", "", "reason for the delete (required)")
	cmd.Flags().StringVar(&flags.actor, "actor", "", "who is deleting (required)")
	cmd.Flags().BoolVar(&flags.cascade, "cascade", false, "also remove advisory links on hard delete")
	cmd.Flags().IntVar(&rootOpts.RateLimit, "rate-limit", 0, "max deletes per minute (0 = unlimited)")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runDelete(opts *RootOptions, flags *deleteFlags, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	res, err := led.DeleteRun(runID, ledger.DeleteMode(flags.mode), flags.reason, flags.actor, flags.cascade)
	if err != nil {
		return reportLedgerError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	msg := fmt.Sprintf("%s delete of %s recorded", res.Mode, res.RunID)
	if res.Mode == ledger.HardDelete {
		msg = fmt.Sprintf("%s (payload removed: %t, advisory links removed: %d)",
			msg, res.ArtifactDeleted, res.AdvisoryLinksDeleted)
	}
	return formatter.Success(msg)
}
