package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gantry/internal/artifact"
	"github.com/roach88/gantry/internal/ledger"
)

// listFlags are the filter dimensions exposed on gantry list.
type listFlags struct {
	sessionID      string
	batchLabel     string
	toolKind       string
	mode           string
	kind           string
	status         string
	since          string
	until          string
	limit          int
	offset         int
	includeDeleted bool
	count          bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts matching the given filters",
		Long: `List index entries ordered by created_at then run_id. Filters operate
on the index projection only; no payload files are read.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, flags, cmd)
		},
	}

	cmd.Flags().StringVar(&flags.sessionID, "session", "", "filter by session_id")
	cmd.Flags().StringVar(&flags.batchLabel, "batch", "", "filter by batch_label")
	cmd.Flags().StringVar(&flags.toolKind, "tool-kind", "", "filter by tool_kind")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "filter by mode")
	cmd.Flags().StringVar(&flags.kind, "kind", "", "filter by artifact kind")
	cmd.Flags().StringVar(&flags.status, "status", "", "filter by status (OK|BLOCKED|ERROR)")
	cmd.Flags().StringVar(&flags.since, "since", "", "only artifacts created at or after this RFC3339 time")
	cmd.Flags().StringVar(&flags.until, "until", "", "only artifacts created before this RFC3339 time")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum entries to return (0 = all)")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&flags.includeDeleted, "include-deleted", false, "include tombstoned artifacts")
	cmd.Flags().BoolVar(&flags.count, "count", false, "print only the match count")

	return cmd
}

func buildFilter(flags *listFlags) (ledger.Filter, error) {
	f := ledger.Filter{
		SessionID:      flags.sessionID,
		BatchLabel:     flags.batchLabel,
		ToolKind:       flags.toolKind,
		Mode:           flags.mode,
		Kind:           flags.kind,
		Status:         artifact.Status(flags.status),
		IncludeDeleted: flags.includeDeleted,
	}
	if flags.status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("invalid status %q: must be OK, BLOCKED or ERROR", flags.status)
	}
	if flags.since != "" {
		t, err := time.Parse(time.RFC3339, flags.since)
		if err != nil {
			return f, fmt.Errorf("invalid --since: %w", err)
		}
		f.CreatedSince = t
	}
	if flags.until != "" {
		t, err := time.Parse(time.RFC3339, flags.until)
		if err != nil {
			return f, fmt.Errorf("invalid --until: %w", err)
		}
		f.CreatedUntil = t
	}
	return f, nil
}

func runList(opts *RootOptions, flags *listFlags, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	filter, err := buildFilter(flags)
	if err != nil {
		if ferr := formatter.Error(string(ledger.ErrCodeValidation), err.Error()); ferr != nil {
			return ferr
		}
		return NewExitError(ExitCommandError, err.Error())
	}

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	if flags.count {
		return formatter.Success(map[string]int{"count": led.CountRuns(filter)})
	}

	entries := led.ListRuns(filter, flags.limit, flags.offset)
	formatter.VerboseLog("matched %d entries under %s", len(entries), opts.Root)

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	return formatter.Success(renderEntries(entries))
}

// renderEntries formats index entries as an aligned text table.
func renderEntries(entries []artifact.IndexEntry) string {
	if len(entries) == 0 {
		return "no artifacts matched"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-45s %-8s %-12s %-20s %s\n", "RUN_ID", "STATUS", "KIND", "CREATED_AT", "BATCH")
	for _, e := range entries {
		status := string(e.Status)
		if e.Deleted {
			status += "*"
		}
		fmt.Fprintf(&b, "%-45s %-8s %-12s %-20s %s\n",
			e.RunID, status, e.Kind, e.CreatedAtUTC.UTC().Format(time.RFC3339), e.Meta.BatchLabel)
	}
	return strings.TrimRight(b.String(), "\n")
}
