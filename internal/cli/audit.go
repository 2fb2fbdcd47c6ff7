package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/ledger"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the delete audit log",
		Long: `Print the append-only delete audit trail, one record per attempt,
oldest first. --limit keeps only the most recent records.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, limit, cmd)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "only the most recent N records (0 = all)")
	return cmd
}

func runAudit(opts *RootOptions, limit int, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	records, err := led.ReadAuditLog()
	if err != nil {
		return reportLedgerError(formatter, err)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	if formatter.Format == "json" {
		return formatter.Success(records)
	}
	return formatter.Success(renderAudit(records))
}

func renderAudit(records []ledger.AuditEntry) string {
	if len(records) == 0 {
		return "audit log is empty"
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s %-4s %-45s actor=%s reason=%q",
			r.TimestampUTC.UTC().Format(time.RFC3339), r.Mode, r.RunID, r.Actor, r.Reason)
		if r.Errors != "" {
			fmt.Fprintf(&b, " errors=%q", r.Errors)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
