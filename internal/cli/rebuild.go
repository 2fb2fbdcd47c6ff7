package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Reconstruct the central index from the partition files",
		Long: `Scan every date partition and rebuild _index.json from the payload
files. The index is a derived cache; rebuilding is always safe.
Tombstones from the current index are carried forward.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(rootOpts, cmd)
		},
	}
}

func runRebuild(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	led, err := openLedger(opts)
	if err != nil {
		return err
	}

	n, err := led.RebuildIndex()
	if err != nil {
		return reportLedgerError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]int{"indexed": n})
	}
	return formatter.Success(fmt.Sprintf("rebuilt index with %d artifacts", n))
}
