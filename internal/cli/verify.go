package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/ledger"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every indexed artifact payload is present and readable",
		Long: `Confirm that every live index entry has a payload file. With --strict,
each payload is also decoded and checked against the artifact schema.
Exit code 1 when any issue is found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, strict, cmd)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "also decode payloads and validate against the artifact schema")
	return cmd
}

func runVerify(opts *RootOptions, strict bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	report, err := led.Verify(strict)
	if err != nil {
		return reportLedgerError(formatter, err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		if err := formatter.Success(renderVerifyReport(report)); err != nil {
			return err
		}
	}
	if !report.OK() {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d missing, %d corrupt", len(report.Missing), len(report.Corrupt)))
	}
	return nil
}

func renderVerifyReport(r ledger.VerifyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "checked %d artifacts\n", r.Checked)
	if r.OK() {
		b.WriteString("store is consistent")
		return b.String()
	}
	for _, id := range r.Missing {
		fmt.Fprintf(&b, "missing: %s\n", id)
	}
	for _, issue := range r.Corrupt {
		fmt.Fprintf(&b, "corrupt: %s (%s)\n", issue.RunID, issue.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}
